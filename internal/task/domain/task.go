// Package domain defines tasks and their lifecycle. A task moves
// READY -> CLAIMED -> COMPLETED; transfer marks a flag and re-routes the task
// without being a state of its own. There is no transition out of COMPLETED.
package domain

import (
	"fmt"
	"strings"
	"time"

	classification "github.com/louisbranch/workdesk/internal/classification/domain"
	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	workbasket "github.com/louisbranch/workdesk/internal/workbasket/domain"
)

// State describes the lifecycle state of a task.
type State string

const (
	// StateReady is the initial state of a created task.
	StateReady State = "READY"
	// StateClaimed marks a task claimed by its owner.
	StateClaimed State = "CLAIMED"
	// StateCompleted is terminal.
	StateCompleted State = "COMPLETED"
)

// Task is a unit of work routed through a workbasket.
type Task struct {
	ID                      string
	BusinessProcessID       string
	ParentBusinessProcessID string
	Name                    string
	Description             string
	Priority                int
	State                   State
	ClassificationKey       string
	WorkbasketKey           string
	Domain                  string
	Owner                   string
	Created                 time.Time
	Claimed                 time.Time
	Completed               time.Time
	Modified                time.Time
	Planned                 time.Time
	Due                     time.Time
	PrimaryObjRef           *ObjectReference
	SecondaryObjRefs        []ObjectReference
	Read                    bool
	Transferred             bool
	Version                 int64
}

// CreateTaskInput describes a task creation request. Name, Priority and
// Planned override the classification defaults when set.
type CreateTaskInput struct {
	ID                      string // optional idempotency key
	Name                    string
	Description             string
	WorkbasketKey           string
	ClassificationKey       string
	BusinessProcessID       string
	ParentBusinessProcessID string
	Priority                *int
	Planned                 time.Time
	PrimaryObjRef           *ObjectReference
	SecondaryObjRefs        []ObjectReference
}

// ValidateCreateTaskInput checks the mandatory fields of a creation request.
func ValidateCreateTaskInput(input CreateTaskInput) error {
	if strings.TrimSpace(input.WorkbasketKey) == "" {
		return apperrors.New(apperrors.CodeTaskMissingWorkbasket, "task workbasket key is required")
	}
	if strings.TrimSpace(input.ClassificationKey) == "" {
		return apperrors.New(apperrors.CodeTaskMissingClassification, "task classification key is required")
	}
	if input.PrimaryObjRef != nil {
		if err := input.PrimaryObjRef.Validate(); err != nil {
			return err
		}
	}
	for _, ref := range input.SecondaryObjRefs {
		if err := ref.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CreateTask builds a task in state READY. The classification must already be
// resolved against the workbasket's domain; its defaults fill name and
// priority unless the input overrides them.
func CreateTask(input CreateTaskInput, wb workbasket.Workbasket, cls classification.Classification, now func() time.Time, idGenerator func() (string, error)) (Task, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = NewID
	}

	if err := ValidateCreateTaskInput(input); err != nil {
		return Task{}, err
	}

	taskID := strings.TrimSpace(input.ID)
	if taskID == "" {
		generated, err := idGenerator()
		if err != nil {
			return Task{}, fmt.Errorf("generate task id: %w", err)
		}
		taskID = generated
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = cls.Name
	}
	priority := cls.Priority
	if input.Priority != nil {
		priority = *input.Priority
	}

	createdAt := now().UTC()
	planned := createdAt
	if !input.Planned.IsZero() {
		planned = input.Planned.UTC()
	}

	return Task{
		ID:                      taskID,
		BusinessProcessID:       input.BusinessProcessID,
		ParentBusinessProcessID: input.ParentBusinessProcessID,
		Name:                    name,
		Description:             input.Description,
		Priority:                priority,
		State:                   StateReady,
		ClassificationKey:       cls.Key,
		WorkbasketKey:           wb.Key,
		Domain:                  wb.Domain,
		Created:                 createdAt,
		Modified:                createdAt,
		Planned:                 planned,
		PrimaryObjRef:           input.PrimaryObjRef,
		SecondaryObjRefs:        input.SecondaryObjRefs,
		Version:                 1,
	}, nil
}

// Claim transitions a READY task to CLAIMED for the given owner.
func (t Task) Claim(owner string, now func() time.Time) (Task, error) {
	if now == nil {
		now = time.Now
	}
	if t.State != StateReady {
		return Task{}, invalidState(t, StateReady)
	}
	claimedAt := now().UTC()
	t.Owner = owner
	t.Claimed = claimedAt
	t.Modified = claimedAt
	t.State = StateClaimed
	return t, nil
}

// Complete transitions a CLAIMED task to COMPLETED.
func (t Task) Complete(now func() time.Time) (Task, error) {
	if now == nil {
		now = time.Now
	}
	if t.State != StateClaimed {
		return Task{}, invalidState(t, StateClaimed)
	}
	completedAt := now().UTC()
	t.Completed = completedAt
	t.Modified = completedAt
	t.State = StateCompleted
	return t, nil
}

// Transfer re-routes the task to the target workbasket. Legal from READY or
// CLAIMED; a claimed task returns to READY and loses its owner.
func (t Task) Transfer(target workbasket.Workbasket, now func() time.Time) (Task, error) {
	if now == nil {
		now = time.Now
	}
	if t.State == StateCompleted {
		return Task{}, invalidState(t, StateReady, StateClaimed)
	}
	t.WorkbasketKey = target.Key
	t.Domain = target.Domain
	t.Owner = ""
	t.Claimed = time.Time{}
	t.State = StateReady
	t.Transferred = true
	t.Modified = now().UTC()
	return t, nil
}

// SetRead toggles the read flag.
func (t Task) SetRead(read bool, now func() time.Time) Task {
	if now == nil {
		now = time.Now
	}
	t.Read = read
	t.Modified = now().UTC()
	return t
}

func invalidState(t Task, wanted ...State) error {
	expected := make([]string, 0, len(wanted))
	for _, s := range wanted {
		expected = append(expected, string(s))
	}
	return apperrors.WithMetadata(
		apperrors.CodeInvalidTaskState,
		fmt.Sprintf("task %s is in state %s, expected one of %s", t.ID, t.State, strings.Join(expected, ", ")),
		map[string]string{
			"TaskID":         t.ID,
			"State":          string(t.State),
			"ExpectedStates": strings.Join(expected, ","),
		},
	)
}
