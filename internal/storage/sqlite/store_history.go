package sqlite

import (
	"context"
	"fmt"

	"github.com/louisbranch/workdesk/internal/history"
)

// AppendHistoryEvent records one lifecycle event. History runs on the
// store's own handle, outside the session transaction, so a failure here
// never poisons the main write.
func (s *Store) AppendHistoryEvent(ctx context.Context, event history.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO task_history_events (kind, task_id, actor, occurred_at)
		VALUES (?, ?, ?, ?)`,
		string(event.Kind), event.TaskID, event.Actor, toMillis(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append history event: %w", err)
	}
	return nil
}

// HistoryEvents returns the recorded events for a task in append order.
func (s *Store) HistoryEvents(ctx context.Context, taskID string) ([]history.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT kind, task_id, actor, occurred_at
		FROM task_history_events WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list history events: %w", err)
	}
	defer rows.Close()

	var events []history.Event
	for rows.Next() {
		var (
			event      history.Event
			kind       string
			occurredAt int64
		)
		if err := rows.Scan(&kind, &event.TaskID, &event.Actor, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		event.Kind = history.Kind(kind)
		event.Timestamp = fromMillis(occurredAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history events: %w", err)
	}
	return events, nil
}
