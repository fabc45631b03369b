// Package history defines the lifecycle event model and the producer
// interface the engine emits to when history is enabled. The producer is an
// external collaborator: its failures are reported as warnings and never
// fail the primary operation.
package history

import (
	"context"
	"time"
)

// Kind describes a task lifecycle event.
type Kind string

const (
	KindCreated     Kind = "CREATED"
	KindClaimed     Kind = "CLAIMED"
	KindCompleted   Kind = "COMPLETED"
	KindTransferred Kind = "TRANSFERRED"
)

// Event records one task lifecycle transition.
type Event struct {
	Kind      Kind
	TaskID    string
	Timestamp time.Time
	Actor     string
}

// Producer receives lifecycle events.
type Producer interface {
	Emit(ctx context.Context, event Event) error
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, event Event) error

// Emit implements Producer for ProducerFunc.
func (fn ProducerFunc) Emit(ctx context.Context, event Event) error {
	return fn(ctx, event)
}
