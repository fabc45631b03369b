// Package storage defines the persistence contracts consumed by the engine.
// Store methods take an explicit Querier so every statement runs on the
// session handle owned by the session coordinator.
package storage

import (
	"context"
	"database/sql"
	"errors"

	classification "github.com/louisbranch/workdesk/internal/classification/domain"
	"github.com/louisbranch/workdesk/internal/history"
	task "github.com/louisbranch/workdesk/internal/task/domain"
	workbasket "github.com/louisbranch/workdesk/internal/workbasket/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrVersionMismatch indicates an update raced with a concurrent writer.
var ErrVersionMismatch = errors.New("record version mismatch")

// ErrDuplicate indicates an insert collided with an existing record.
var ErrDuplicate = errors.New("record already exists")

// Querier is the subset of database/sql handles stores execute against.
// *sql.DB, *sql.Conn and *sql.Tx all satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TaskStore persists tasks and their object references.
type TaskStore interface {
	InsertTask(ctx context.Context, q Querier, t task.Task) error
	GetTask(ctx context.Context, q Querier, id string) (task.Task, error)
	// UpdateTask writes t guarded by t.Version-1 as the expected persisted
	// version; ErrVersionMismatch reports a lost-update race.
	UpdateTask(ctx context.Context, q Querier, t task.Task) error
}

// WorkbasketStore persists workbaskets and their access items.
type WorkbasketStore interface {
	InsertWorkbasket(ctx context.Context, q Querier, wb workbasket.Workbasket) error
	GetWorkbasket(ctx context.Context, q Querier, key string) (workbasket.Workbasket, error)
	InsertAccessItem(ctx context.Context, q Querier, item workbasket.AccessItem) error
	AccessItems(ctx context.Context, q Querier, workbasketKey string) ([]workbasket.AccessItem, error)
}

// ClassificationStore persists classifications keyed by (key, domain).
type ClassificationStore interface {
	InsertClassification(ctx context.Context, q Querier, c classification.Classification) error
	GetClassification(ctx context.Context, q Querier, key, domain string) (classification.Classification, error)
}

// HistoryStore appends lifecycle events. It runs on its own handle: history
// writes are best-effort relative to the main transaction.
type HistoryStore interface {
	AppendHistoryEvent(ctx context.Context, event history.Event) error
	HistoryEvents(ctx context.Context, taskID string) ([]history.Event, error)
}
