package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/workdesk/internal/storage"
	workbasket "github.com/louisbranch/workdesk/internal/workbasket/domain"
)

// InsertWorkbasket inserts one workbasket record.
func (s *Store) InsertWorkbasket(ctx context.Context, q storage.Querier, wb workbasket.Workbasket) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO workbaskets (key, domain, name, owner, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		wb.Key, wb.Domain, wb.Name, wb.Owner, toMillis(wb.Created), toMillis(wb.Modified),
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert workbasket: %w", err)
	}
	return nil
}

// GetWorkbasket returns the workbasket with the given key.
func (s *Store) GetWorkbasket(ctx context.Context, q storage.Querier, key string) (workbasket.Workbasket, error) {
	if err := ctx.Err(); err != nil {
		return workbasket.Workbasket{}, err
	}

	var (
		wb                    workbasket.Workbasket
		createdAt, modifiedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT key, domain, name, owner, created_at, modified_at
		FROM workbaskets WHERE key = ?`, key,
	).Scan(&wb.Key, &wb.Domain, &wb.Name, &wb.Owner, &createdAt, &modifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workbasket.Workbasket{}, storage.ErrNotFound
		}
		return workbasket.Workbasket{}, fmt.Errorf("get workbasket: %w", err)
	}
	wb.Created = fromMillis(createdAt)
	wb.Modified = fromMillis(modifiedAt)
	return wb, nil
}

// InsertAccessItem upserts the permission set one access id holds on a
// workbasket. Permissions are stored as a comma-separated list.
func (s *Store) InsertAccessItem(ctx context.Context, q storage.Querier, item workbasket.AccessItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO workbasket_access_items (workbasket_key, access_id, permissions)
		VALUES (?, ?, ?)
		ON CONFLICT (workbasket_key, access_id) DO UPDATE SET permissions = excluded.permissions`,
		item.WorkbasketKey, item.AccessID, encodePermissions(item.Permissions),
	)
	if err != nil {
		return fmt.Errorf("insert access item: %w", err)
	}
	return nil
}

// AccessItems returns the access items granted on a workbasket.
func (s *Store) AccessItems(ctx context.Context, q storage.Querier, workbasketKey string) ([]workbasket.AccessItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT workbasket_key, access_id, permissions
		FROM workbasket_access_items WHERE workbasket_key = ? ORDER BY access_id`, workbasketKey)
	if err != nil {
		return nil, fmt.Errorf("list access items: %w", err)
	}
	defer rows.Close()

	var items []workbasket.AccessItem
	for rows.Next() {
		var (
			item    workbasket.AccessItem
			encoded string
		)
		if err := rows.Scan(&item.WorkbasketKey, &item.AccessID, &encoded); err != nil {
			return nil, fmt.Errorf("scan access item: %w", err)
		}
		item.Permissions = decodePermissions(encoded)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access items: %w", err)
	}
	return items, nil
}

func encodePermissions(permissions []workbasket.Permission) string {
	names := make([]string, 0, len(permissions))
	for _, p := range permissions {
		names = append(names, string(p))
	}
	return strings.Join(names, ",")
}

func decodePermissions(encoded string) []workbasket.Permission {
	if encoded == "" {
		return nil
	}
	parts := strings.Split(encoded, ",")
	permissions := make([]workbasket.Permission, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			permissions = append(permissions, workbasket.Permission(part))
		}
	}
	return permissions
}
