package workdesk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/louisbranch/workdesk/internal/auth"
	"github.com/louisbranch/workdesk/internal/engine"
	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	"github.com/louisbranch/workdesk/internal/platform/requestctx"
	"github.com/louisbranch/workdesk/internal/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

// Server hosts the engine behind a gRPC lifecycle with the standard health
// service and bearer-token principal resolution.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *sqlite.Store
	engine     *engine.Engine
}

// NewServer creates a configured workdesk server listening on cfg.Port.
func NewServer(cfg Config) (*Server, error) {
	return NewServerWithAddr(cfg, fmt.Sprintf(":%d", cfg.Port))
}

// NewServerWithAddr creates a configured workdesk server for the provided address.
func NewServerWithAddr(cfg Config, addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	store, err := sqlite.Open(cfg.Engine.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	eng, err := engine.New(store, cfg.Engine)
	if err != nil {
		_ = store.Close()
		_ = listener.Close()
		return nil, err
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(principalInterceptor(auth.TokenConfig{
			Issuer: cfg.JWTIssuer,
			Secret: []byte(cfg.JWTSecret),
		})),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		engine:     eng,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Engine exposes the assembled engine for embedding callers.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Serve starts the gRPC server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("workdesk server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case err := <-serveErr:
		return err
	}
}

// Close stops the server and releases the store.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// principalInterceptor resolves the calling principal from a bearer token
// and stores it in the request context. Requests without a token proceed
// anonymously; authorization happens per operation.
func principalInterceptor(cfg auth.TokenConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		token := bearerToken(ctx)
		if token == "" {
			return handler(ctx, req)
		}
		principal, err := auth.PrincipalFromToken(token, cfg)
		if err != nil {
			var appErr *apperrors.Error
			if apperrors.As(err, &appErr) {
				return nil, appErr.ToGRPCStatus()
			}
			return nil, err
		}
		return handler(requestctx.WithPrincipal(ctx, principal), req)
	}
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get("authorization") {
		if rest, found := strings.CutPrefix(value, "Bearer "); found {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
