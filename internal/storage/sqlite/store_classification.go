package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	classification "github.com/louisbranch/workdesk/internal/classification/domain"
	"github.com/louisbranch/workdesk/internal/storage"
)

// InsertClassification inserts one classification record.
func (s *Store) InsertClassification(ctx context.Context, q storage.Querier, c classification.Classification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO classifications (key, domain, category, name, priority, service_level, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Key, c.Domain, c.Category, c.Name, c.Priority, c.ServiceLevel,
		toMillis(c.Created), toMillis(c.Modified),
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert classification: %w", err)
	}
	return nil
}

// GetClassification returns the classification registered for (key, domain).
// There is no fallback to other domains.
func (s *Store) GetClassification(ctx context.Context, q storage.Querier, key, domain string) (classification.Classification, error) {
	if err := ctx.Err(); err != nil {
		return classification.Classification{}, err
	}

	var (
		c                     classification.Classification
		createdAt, modifiedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT key, domain, category, name, priority, service_level, created_at, modified_at
		FROM classifications WHERE key = ? AND domain = ?`, key, domain,
	).Scan(&c.Key, &c.Domain, &c.Category, &c.Name, &c.Priority, &c.ServiceLevel, &createdAt, &modifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return classification.Classification{}, storage.ErrNotFound
		}
		return classification.Classification{}, fmt.Errorf("get classification: %w", err)
	}
	c.Created = fromMillis(createdAt)
	c.Modified = fromMillis(modifiedAt)
	return c, nil
}
