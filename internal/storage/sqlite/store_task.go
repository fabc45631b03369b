package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/workdesk/internal/storage"
	task "github.com/louisbranch/workdesk/internal/task/domain"
)

// InsertTask inserts a task and its object references.
func (s *Store) InsertTask(ctx context.Context, q storage.Querier, t task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (
			id, business_process_id, parent_business_process_id,
			name, description, priority, state,
			classification_key, workbasket_key, domain, owner,
			created_at, claimed_at, completed_at, modified_at, planned_at, due_at,
			is_read, is_transferred, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BusinessProcessID, t.ParentBusinessProcessID,
		t.Name, t.Description, t.Priority, string(t.State),
		t.ClassificationKey, t.WorkbasketKey, t.Domain, t.Owner,
		toMillis(t.Created), nullableMillis(t.Claimed), nullableMillis(t.Completed),
		toMillis(t.Modified), toMillis(t.Planned), nullableMillis(t.Due),
		boolToInt(t.Read), boolToInt(t.Transferred), t.Version,
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert task: %w", err)
	}

	position := 0
	insertRef := func(ref task.ObjectReference, primary bool) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO task_object_references (
				task_id, position, is_primary, company, system, system_instance, ref_type, ref_value
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, position, boolToInt(primary), ref.Company, ref.System, ref.SystemInstance, ref.Type, ref.Value,
		)
		if err != nil {
			return fmt.Errorf("insert object reference: %w", err)
		}
		position++
		return nil
	}
	if t.PrimaryObjRef != nil {
		if err := insertRef(*t.PrimaryObjRef, true); err != nil {
			return err
		}
	}
	for _, ref := range t.SecondaryObjRefs {
		if err := insertRef(ref, false); err != nil {
			return err
		}
	}
	return nil
}

// GetTask loads a task with its object references.
func (s *Store) GetTask(ctx context.Context, q storage.Querier, id string) (task.Task, error) {
	if err := ctx.Err(); err != nil {
		return task.Task{}, err
	}

	var (
		t                             task.Task
		state                         string
		createdAt, modifiedAt         int64
		plannedAt                     int64
		claimedAt, completedAt, dueAt sql.NullInt64
		isRead, isTransferred         int
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, business_process_id, parent_business_process_id,
			name, description, priority, state,
			classification_key, workbasket_key, domain, owner,
			created_at, claimed_at, completed_at, modified_at, planned_at, due_at,
			is_read, is_transferred, version
		FROM tasks WHERE id = ?`, id,
	).Scan(
		&t.ID, &t.BusinessProcessID, &t.ParentBusinessProcessID,
		&t.Name, &t.Description, &t.Priority, &state,
		&t.ClassificationKey, &t.WorkbasketKey, &t.Domain, &t.Owner,
		&createdAt, &claimedAt, &completedAt, &modifiedAt, &plannedAt, &dueAt,
		&isRead, &isTransferred, &t.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return task.Task{}, storage.ErrNotFound
		}
		return task.Task{}, fmt.Errorf("get task: %w", err)
	}

	t.State = task.State(state)
	t.Created = fromMillis(createdAt)
	t.Claimed = fromNullableMillis(claimedAt)
	t.Completed = fromNullableMillis(completedAt)
	t.Modified = fromMillis(modifiedAt)
	t.Planned = fromMillis(plannedAt)
	t.Due = fromNullableMillis(dueAt)
	t.Read = isRead != 0
	t.Transferred = isTransferred != 0

	t.PrimaryObjRef, t.SecondaryObjRefs, err = s.objectReferences(ctx, q, t.ID)
	if err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// UpdateTask writes t guarded by the previously persisted version. Object
// references never change after creation and are left untouched.
func (s *Store) UpdateTask(ctx context.Context, q storage.Querier, t task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, `
		UPDATE tasks SET
			name = ?, description = ?, priority = ?, state = ?,
			workbasket_key = ?, domain = ?, owner = ?,
			claimed_at = ?, completed_at = ?, modified_at = ?, planned_at = ?, due_at = ?,
			is_read = ?, is_transferred = ?, version = ?
		WHERE id = ? AND version = ?`,
		t.Name, t.Description, t.Priority, string(t.State),
		t.WorkbasketKey, t.Domain, t.Owner,
		nullableMillis(t.Claimed), nullableMillis(t.Completed),
		toMillis(t.Modified), toMillis(t.Planned), nullableMillis(t.Due),
		boolToInt(t.Read), boolToInt(t.Transferred), t.Version,
		t.ID, t.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrVersionMismatch
	}
	return nil
}

func (s *Store) objectReferences(ctx context.Context, q storage.Querier, taskID string) (*task.ObjectReference, []task.ObjectReference, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT is_primary, company, system, system_instance, ref_type, ref_value
		FROM task_object_references WHERE task_id = ? ORDER BY position`, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("list object references: %w", err)
	}
	defer rows.Close()

	var primary *task.ObjectReference
	var secondary []task.ObjectReference
	for rows.Next() {
		var ref task.ObjectReference
		var isPrimary int
		if err := rows.Scan(&isPrimary, &ref.Company, &ref.System, &ref.SystemInstance, &ref.Type, &ref.Value); err != nil {
			return nil, nil, fmt.Errorf("scan object reference: %w", err)
		}
		if isPrimary != 0 {
			primary = &ref
		} else {
			secondary = append(secondary, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate object references: %w", err)
	}
	return primary, secondary, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
