// Package engine assembles the task engine: session coordination,
// authorization, classification resolution and the task lifecycle over one
// SQLite store.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/louisbranch/workdesk/internal/auth"
	classificationsvc "github.com/louisbranch/workdesk/internal/classification/service"
	"github.com/louisbranch/workdesk/internal/history"
	"github.com/louisbranch/workdesk/internal/session"
	"github.com/louisbranch/workdesk/internal/storage/sqlite"
	tasksvc "github.com/louisbranch/workdesk/internal/task/service"
	workbasketsvc "github.com/louisbranch/workdesk/internal/workbasket/service"
)

// Config captures the immutable engine configuration snapshot.
type Config struct {
	DBPath         string   `env:"WORKDESK_DB_PATH" envDefault:"workdesk.db"`
	ConnectionMode string   `env:"WORKDESK_CONNECTION_MODE" envDefault:"PARTICIPATE"`
	Domains        []string `env:"WORKDESK_DOMAINS" envDefault:"DOMAIN_A,DOMAIN_B"`
	HistoryEnabled bool     `env:"WORKDESK_HISTORY_ENABLED" envDefault:"true"`

	RoleUser          []string `env:"WORKDESK_ROLE_USER"`
	RoleBusinessAdmin []string `env:"WORKDESK_ROLE_BUSINESS_ADMIN"`
	RoleAdmin         []string `env:"WORKDESK_ROLE_ADMIN"`
	RoleMonitor       []string `env:"WORKDESK_ROLE_MONITOR"`
}

func (c Config) roleMembers() map[auth.Role][]string {
	return map[auth.Role][]string{
		auth.RoleUser:          c.RoleUser,
		auth.RoleBusinessAdmin: c.RoleBusinessAdmin,
		auth.RoleAdmin:         c.RoleAdmin,
		auth.RoleMonitor:       c.RoleMonitor,
	}
}

// Engine is the assembled task engine.
type Engine struct {
	config          Config
	store           *sqlite.Store
	sessions        *session.Coordinator
	gate            *auth.Gate
	tasks           *tasksvc.Service
	workbaskets     *workbasketsvc.Service
	classifications *classificationsvc.Service
	domains         map[string]struct{}
}

// New builds an engine over the given store.
func New(store *sqlite.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	mode, err := session.ParseMode(cfg.ConnectionMode)
	if err != nil {
		return nil, err
	}
	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("at least one domain is required")
	}

	domains := make(map[string]struct{}, len(cfg.Domains))
	for _, d := range cfg.Domains {
		if d = strings.TrimSpace(d); d != "" {
			domains[d] = struct{}{}
		}
	}

	sessions := session.NewCoordinator(store.DB(), mode)
	gate := auth.NewGate(cfg.roleMembers(), store)

	return &Engine{
		config:   cfg,
		store:    store,
		sessions: sessions,
		gate:     gate,
		tasks: tasksvc.NewService(tasksvc.Config{
			Sessions:        sessions,
			Gate:            gate,
			Tasks:           store,
			Workbaskets:     store,
			Classifications: store,
			History:         history.ProducerFunc(store.AppendHistoryEvent),
			HistoryEnabled:  cfg.HistoryEnabled,
		}),
		workbaskets:     workbasketsvc.NewService(sessions, gate, store, cfg.Domains),
		classifications: classificationsvc.NewService(sessions, store, cfg.Domains),
		domains:         domains,
	}, nil
}

// TaskService returns the task lifecycle service.
func (e *Engine) TaskService() *tasksvc.Service {
	return e.tasks
}

// WorkbasketService returns the workbasket service.
func (e *Engine) WorkbasketService() *workbasketsvc.Service {
	return e.workbaskets
}

// ClassificationService returns the classification service.
func (e *Engine) ClassificationService() *classificationsvc.Service {
	return e.classifications
}

// HistoryEnabled reports whether lifecycle events are emitted.
func (e *Engine) HistoryEnabled() bool {
	return e.config.HistoryEnabled
}

// DomainExists reports whether the engine is configured for the domain.
func (e *Engine) DomainExists(domain string) bool {
	_, ok := e.domains[strings.TrimSpace(domain)]
	return ok
}

// IsUserInRole reports whether the calling principal holds any of the roles.
func (e *Engine) IsUserInRole(ctx context.Context, roles ...auth.Role) bool {
	return e.gate.IsUserInRole(ctx, roles...)
}

// CheckRoleMembership fails unless the calling principal holds one of the roles.
func (e *Engine) CheckRoleMembership(ctx context.Context, roles ...auth.Role) error {
	return e.gate.CheckRoleMembership(ctx, roles...)
}

// SetExternalConnection hands the coordinator an externally owned handle and
// switches to EXPLICIT connection management.
func (e *Engine) SetExternalConnection(conn *sql.Conn) error {
	return e.sessions.SetExternalConnection(conn)
}

// CloseExternalConnection closes the external handle and resets the
// connection management mode to PARTICIPATE.
func (e *Engine) CloseExternalConnection() error {
	return e.sessions.CloseExternalConnection()
}

// ConnectionMode returns the coordinator's active mode.
func (e *Engine) ConnectionMode() session.Mode {
	return e.sessions.Mode()
}

// HistoryEvents returns the recorded lifecycle events for a task.
func (e *Engine) HistoryEvents(ctx context.Context, taskID string) ([]history.Event, error) {
	return e.store.HistoryEvents(ctx, taskID)
}
