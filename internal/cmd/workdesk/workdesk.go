// Package workdesk parses engine server flags and launches the service.
package workdesk

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/workdesk/internal/engine"
	entrypoint "github.com/louisbranch/workdesk/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/workdesk/internal/platform/grpc"
)

const healthcheckTimeout = 5 * time.Second

// Config holds workdesk command configuration.
type Config struct {
	Port int `env:"WORKDESK_PORT" envDefault:"8090"`

	JWTSecret string `env:"WORKDESK_JWT_SECRET"`
	JWTIssuer string `env:"WORKDESK_JWT_ISSUER" envDefault:"workdesk"`

	// Healthcheck probes a running server instead of starting one.
	Healthcheck bool

	Engine engine.Config
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The workdesk gRPC server port")
	fs.StringVar(&cfg.Engine.DBPath, "db", cfg.Engine.DBPath, "Path to the sqlite database file")
	fs.StringVar(&cfg.Engine.ConnectionMode, "connection-mode", cfg.Engine.ConnectionMode, "Connection management mode (PARTICIPATE, AUTOCOMMIT, EXPLICIT)")
	fs.BoolVar(&cfg.Healthcheck, "healthcheck", false, "Probe the running server's health endpoint and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the workdesk gRPC server, or probes a running one when the
// healthcheck flag is set.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Healthcheck {
		return Healthcheck(ctx, fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorkdesk, func(context.Context) error {
		server, err := NewServer(cfg)
		if err != nil {
			return err
		}
		return server.Serve(ctx)
	})
}

// Healthcheck dials the server at addr and waits for its health service to
// report serving. Container probes run the binary with -healthcheck and use
// the exit code.
func Healthcheck(ctx context.Context, addr string) error {
	conn, err := platformgrpc.DialWithHealth(ctx, addr, healthcheckTimeout, log.Printf, platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		var dialErr *platformgrpc.DialError
		if errors.As(err, &dialErr) && dialErr.Stage == platformgrpc.DialStageHealth {
			return fmt.Errorf("workdesk gRPC health check failed for %s: %w", addr, dialErr.Err)
		}
		return fmt.Errorf("dial workdesk gRPC %s: %w", addr, err)
	}
	return conn.Close()
}
