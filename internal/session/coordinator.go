// Package session coordinates the transactional handle shared by nested
// engine calls. Each logical call chain owns at most one handle, carried in
// context and refcounted by depth; who begins and commits the handle is
// governed by the connection-management mode.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	"github.com/louisbranch/workdesk/internal/storage"
)

// Mode governs who starts and commits the underlying transactional handle.
type Mode string

const (
	// ModeParticipate joins the surrounding caller transaction; the engine
	// never commits. This is the default mode.
	ModeParticipate Mode = "PARTICIPATE"
	// ModeAutocommit commits each top-level engine call separately.
	ModeAutocommit Mode = "AUTOCOMMIT"
	// ModeExplicit uses a handle supplied by the caller; commit processing
	// is the caller's responsibility.
	ModeExplicit Mode = "EXPLICIT"
)

// ParseMode parses a connection-management mode name.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(value))) {
	case ModeParticipate:
		return ModeParticipate, nil
	case ModeAutocommit:
		return ModeAutocommit, nil
	case ModeExplicit:
		return ModeExplicit, nil
	}
	return "", fmt.Errorf("unknown connection management mode %q", value)
}

// slot is the per-call-chain session state: one owned handle, refcounted by
// acquire depth. It is never shared across call chains.
type slot struct {
	mu       sync.Mutex
	depth    int
	failed   bool
	conn     *sql.Conn
	tx       *sql.Tx
	external bool
}

// slotContextKey carries the active slot through nested calls.
type slotContextKey struct{}

func slotFromContext(ctx context.Context) *slot {
	if ctx == nil {
		return nil
	}
	value, _ := ctx.Value(slotContextKey{}).(*slot)
	return value
}

// Coordinator owns session acquisition and release for one engine instance.
type Coordinator struct {
	db *sql.DB

	mu       sync.Mutex
	mode     Mode
	external *sql.Conn

	active atomic.Int32
}

// NewCoordinator creates a coordinator over the given database in the given mode.
func NewCoordinator(db *sql.DB, mode Mode) *Coordinator {
	if mode == "" {
		mode = ModeParticipate
	}
	return &Coordinator{db: db, mode: mode}
}

// Mode returns the active connection-management mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Acquire opens the session for the current call chain. The first acquisition
// obtains a handle according to the active mode; nested acquisitions reuse it
// and only increase the depth. The returned context must be used for all
// nested calls and for the matching Release.
func (c *Coordinator) Acquire(ctx context.Context) (context.Context, error) {
	if s := slotFromContext(ctx); s != nil {
		s.mu.Lock()
		if s.depth > 0 {
			s.depth++
			s.mu.Unlock()
			return ctx, nil
		}
		s.mu.Unlock()
		// A finalized slot left in a reused context; fall through and open
		// a fresh session for this chain.
	}

	c.mu.Lock()
	mode := c.mode
	external := c.external
	c.mu.Unlock()

	s := &slot{depth: 1}
	switch mode {
	case ModeAutocommit:
		conn, err := c.db.Conn(ctx)
		if err != nil {
			return ctx, fmt.Errorf("acquire connection: %w", err)
		}
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			_ = conn.Close()
			return ctx, fmt.Errorf("begin transaction: %w", err)
		}
		s.conn = conn
		s.tx = tx
	case ModeExplicit:
		if external == nil {
			return ctx, apperrors.New(apperrors.CodeConnectionNotSet,
				"mode EXPLICIT requires an external connection; call SetExternalConnection first")
		}
		s.conn = external
		s.external = true
	default: // ModeParticipate
		conn, err := c.db.Conn(ctx)
		if err != nil {
			return ctx, fmt.Errorf("acquire connection: %w", err)
		}
		s.conn = conn
	}

	c.active.Add(1)
	return context.WithValue(ctx, slotContextKey{}, s), nil
}

// Release closes the session level opened by the matching Acquire. When the
// depth reaches zero the handle is finalized: AUTOCOMMIT commits (or rolls
// back after Abort), PARTICIPATE returns the connection to the pool, and
// EXPLICIT leaves the external handle untouched.
func (c *Coordinator) Release(ctx context.Context) error {
	s := slotFromContext(ctx)
	if s == nil {
		return apperrors.New(apperrors.CodeSessionNotAcquired, "release without a matching acquire")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depth == 0 {
		return apperrors.New(apperrors.CodeSessionNotAcquired, "session released more times than acquired")
	}
	s.depth--
	if s.depth > 0 {
		return nil
	}

	defer c.active.Add(-1)

	var err error
	if s.tx != nil {
		if s.failed {
			err = s.tx.Rollback()
		} else {
			err = s.tx.Commit()
		}
		s.tx = nil
	}
	if !s.external && s.conn != nil {
		if closeErr := s.conn.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	s.conn = nil
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	return nil
}

// Run acquires a session, invokes fn with the session context and handle,
// and releases when fn returns. An error from fn aborts the session first,
// so an AUTOCOMMIT chain rolls back as a unit.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context, q storage.Querier) error) error {
	sctx, err := c.Acquire(ctx)
	if err != nil {
		return err
	}
	q, err := c.Handle(sctx)
	if err == nil {
		err = fn(sctx, q)
	}
	if err != nil {
		c.Abort(sctx)
		_ = c.Release(sctx)
		return err
	}
	return c.Release(sctx)
}

// Abort marks the current session failed. In AUTOCOMMIT mode the final
// Release rolls back instead of committing; other modes leave commit control
// with the handle owner.
func (c *Coordinator) Abort(ctx context.Context) {
	if s := slotFromContext(ctx); s != nil {
		s.mu.Lock()
		s.failed = true
		s.mu.Unlock()
	}
}

// Handle returns the transactional handle owned by the current session.
func (c *Coordinator) Handle(ctx context.Context) (storage.Querier, error) {
	s := slotFromContext(ctx)
	if s == nil {
		return nil, apperrors.New(apperrors.CodeSessionNotAcquired, "no session acquired for this call")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depth == 0 {
		return nil, apperrors.New(apperrors.CodeSessionNotAcquired, "session already released")
	}
	if s.tx != nil {
		return s.tx, nil
	}
	return s.conn, nil
}

// SetExternalConnection switches the coordinator to mode EXPLICIT using the
// supplied handle for all subsequent acquisitions until the caller closes it.
// Passing nil behaves like CloseExternalConnection. Setting a connection
// while a session is active, or while another external connection is set, is
// a caller contract violation.
func (c *Coordinator) SetExternalConnection(conn *sql.Conn) error {
	if conn == nil {
		return c.CloseExternalConnection()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.external != nil {
		return apperrors.New(apperrors.CodeConnectionAlreadySet, "an external connection is already set")
	}
	if c.active.Load() > 0 {
		return apperrors.New(apperrors.CodeConnectionAlreadySet, "cannot set an external connection while a session is active")
	}
	c.external = conn
	c.mode = ModeExplicit
	return nil
}

// CloseExternalConnection closes the external handle, clears it, and resets
// the mode to PARTICIPATE.
func (c *Coordinator) CloseExternalConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.external != nil {
		err = c.external.Close()
		c.external = nil
	}
	c.mode = ModeParticipate
	if err != nil {
		return fmt.Errorf("close external connection: %w", err)
	}
	return nil
}
