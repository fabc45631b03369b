// Package service implements the task lifecycle engine. Every operation runs
// Acquire -> authorize -> mutate -> Release on the session coordinator and
// reports history sink failures as warnings, never as primary errors.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/workdesk/internal/auth"
	classificationsvc "github.com/louisbranch/workdesk/internal/classification/service"
	"github.com/louisbranch/workdesk/internal/history"
	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	"github.com/louisbranch/workdesk/internal/platform/requestctx"
	"github.com/louisbranch/workdesk/internal/session"
	"github.com/louisbranch/workdesk/internal/storage"
	"github.com/louisbranch/workdesk/internal/task/domain"
	workbasket "github.com/louisbranch/workdesk/internal/workbasket/domain"
)

// Config wires the task service's collaborators.
type Config struct {
	Sessions        *session.Coordinator
	Gate            *auth.Gate
	Tasks           storage.TaskStore
	Workbaskets     storage.WorkbasketStore
	Classifications storage.ClassificationStore
	History         history.Producer
	HistoryEnabled  bool
}

// Service drives tasks through READY -> CLAIMED -> COMPLETED.
type Service struct {
	sessions        *session.Coordinator
	gate            *auth.Gate
	tasks           storage.TaskStore
	workbaskets     storage.WorkbasketStore
	classifications storage.ClassificationStore
	history         history.Producer
	historyEnabled  bool
	clock           func() time.Time
	idGenerator     func() (string, error)
}

// NewService creates a task service with default clock and id generation.
func NewService(cfg Config) *Service {
	return &Service{
		sessions:        cfg.Sessions,
		gate:            cfg.Gate,
		tasks:           cfg.Tasks,
		workbaskets:     cfg.Workbaskets,
		classifications: cfg.Classifications,
		history:         cfg.History,
		historyEnabled:  cfg.HistoryEnabled,
		clock:           time.Now,
		idGenerator:     domain.NewID,
	}
}

// Result is the outcome of a task operation. Warnings carry failures of
// secondary concerns such as the history sink.
type Result struct {
	Task     domain.Task
	Warnings []error
}

// Create validates, authorizes and persists a new task in state READY. The
// classification resolves against the workbasket's domain regardless of any
// domain the caller had in mind.
func (s *Service) Create(ctx context.Context, input domain.CreateTaskInput) (Result, error) {
	input.WorkbasketKey = strings.TrimSpace(input.WorkbasketKey)
	input.ClassificationKey = strings.TrimSpace(input.ClassificationKey)
	if err := domain.ValidateCreateTaskInput(input); err != nil {
		return Result{}, err
	}

	var created domain.Task
	err := s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		if err := s.gate.CheckWorkbasketPermission(ctx, q, input.WorkbasketKey, workbasket.PermissionAppend); err != nil {
			return err
		}
		wb, err := s.workbaskets.GetWorkbasket(ctx, q, input.WorkbasketKey)
		if err != nil {
			return fmt.Errorf("get workbasket: %w", err)
		}
		cls, err := classificationsvc.Resolve(ctx, s.classifications, q, input.ClassificationKey, wb.Domain)
		if err != nil {
			return err
		}
		created, err = domain.CreateTask(input, wb, cls, s.clock, s.idGenerator)
		if err != nil {
			return err
		}
		if err := s.tasks.InsertTask(ctx, q, created); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperrors.WithMetadata(apperrors.CodeTaskAlreadyExists,
					fmt.Sprintf("task %q already exists", created.ID),
					map[string]string{"TaskID": created.ID})
			}
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return s.result(ctx, created, history.KindCreated), nil
}

// Claim transitions a READY task to CLAIMED for the calling principal. The
// principal needs READ or APPEND on the owning workbasket.
func (s *Service) Claim(ctx context.Context, taskID string) (Result, error) {
	principal, _ := requestctx.PrincipalFromContext(ctx)

	var claimed domain.Task
	err := s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		t, err := s.loadTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		if err := s.gate.CheckWorkbasketPermission(ctx, q, t.WorkbasketKey, workbasket.PermissionRead, workbasket.PermissionAppend); err != nil {
			return err
		}
		claimed, err = t.Claim(principal.UserID, s.clock)
		if err != nil {
			return err
		}
		return s.saveTask(ctx, q, &claimed)
	})
	if err != nil {
		return Result{}, err
	}
	return s.result(ctx, claimed, history.KindClaimed), nil
}

// Complete transitions a CLAIMED task to COMPLETED.
func (s *Service) Complete(ctx context.Context, taskID string) (Result, error) {
	var completed domain.Task
	err := s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		t, err := s.loadTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		if err := s.gate.CheckWorkbasketPermission(ctx, q, t.WorkbasketKey, workbasket.PermissionRead, workbasket.PermissionAppend); err != nil {
			return err
		}
		completed, err = t.Complete(s.clock)
		if err != nil {
			return err
		}
		return s.saveTask(ctx, q, &completed)
	})
	if err != nil {
		return Result{}, err
	}
	return s.result(ctx, completed, history.KindCompleted), nil
}

// Transfer re-routes a task to the target workbasket. The principal needs
// TRANSFER on the source and APPEND on the target; a claimed task returns to
// READY and loses its owner.
func (s *Service) Transfer(ctx context.Context, taskID, targetWorkbasketKey string) (Result, error) {
	targetWorkbasketKey = strings.TrimSpace(targetWorkbasketKey)

	var transferred domain.Task
	err := s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		t, err := s.loadTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		if err := s.gate.CheckWorkbasketPermission(ctx, q, t.WorkbasketKey, workbasket.PermissionTransfer); err != nil {
			return err
		}
		if err := s.gate.CheckWorkbasketPermission(ctx, q, targetWorkbasketKey, workbasket.PermissionAppend); err != nil {
			return err
		}
		target, err := s.workbaskets.GetWorkbasket(ctx, q, targetWorkbasketKey)
		if err != nil {
			return fmt.Errorf("get target workbasket: %w", err)
		}
		transferred, err = t.Transfer(target, s.clock)
		if err != nil {
			return err
		}
		return s.saveTask(ctx, q, &transferred)
	})
	if err != nil {
		return Result{}, err
	}
	return s.result(ctx, transferred, history.KindTransferred), nil
}

// Get returns a task. The principal needs READ on the owning workbasket.
func (s *Service) Get(ctx context.Context, taskID string) (domain.Task, error) {
	var t domain.Task
	err := s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		var err error
		t, err = s.loadTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		return s.gate.CheckWorkbasketPermission(ctx, q, t.WorkbasketKey, workbasket.PermissionRead)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SetRead toggles the read flag and bumps the modification timestamp.
func (s *Service) SetRead(ctx context.Context, taskID string, read bool) (domain.Task, error) {
	var updated domain.Task
	err := s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		t, err := s.loadTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		if err := s.gate.CheckWorkbasketPermission(ctx, q, t.WorkbasketKey, workbasket.PermissionRead); err != nil {
			return err
		}
		updated = t.SetRead(read, s.clock)
		return s.saveTask(ctx, q, &updated)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

func (s *Service) loadTask(ctx context.Context, q storage.Querier, taskID string) (domain.Task, error) {
	taskID = strings.TrimSpace(taskID)
	t, err := s.tasks.GetTask(ctx, q, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Task{}, apperrors.WithMetadata(apperrors.CodeTaskNotFound,
				fmt.Sprintf("task %q not found", taskID),
				map[string]string{"TaskID": taskID})
		}
		return domain.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// saveTask bumps the version and persists the task, translating a lost
// update race into a retryable conflict.
func (s *Service) saveTask(ctx context.Context, q storage.Querier, t *domain.Task) error {
	t.Version++
	if err := s.tasks.UpdateTask(ctx, q, *t); err != nil {
		if errors.Is(err, storage.ErrVersionMismatch) {
			return apperrors.WithMetadata(apperrors.CodeConcurrentModification,
				fmt.Sprintf("task %q was modified concurrently", t.ID),
				map[string]string{"TaskID": t.ID})
		}
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// result emits the lifecycle event when history is enabled. A sink failure
// becomes a warning on the result.
func (s *Service) result(ctx context.Context, t domain.Task, kind history.Kind) Result {
	result := Result{Task: t}
	if !s.historyEnabled || s.history == nil {
		return result
	}
	principal, _ := requestctx.PrincipalFromContext(ctx)
	err := s.history.Emit(ctx, history.Event{
		Kind:      kind,
		TaskID:    t.ID,
		Timestamp: t.Modified,
		Actor:     principal.UserID,
	})
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Errorf("emit %s history event: %w", kind, err))
	}
	return result
}
