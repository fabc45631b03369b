// Package service exposes workbasket lookup and the seeding operations the
// entrypoint uses to provision workbaskets and their access items.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/workdesk/internal/auth"
	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	"github.com/louisbranch/workdesk/internal/session"
	"github.com/louisbranch/workdesk/internal/storage"
	"github.com/louisbranch/workdesk/internal/workbasket/domain"
)

// Service manages workbaskets inside coordinator-managed sessions.
type Service struct {
	sessions *session.Coordinator
	gate     *auth.Gate
	store    storage.WorkbasketStore
	domains  map[string]struct{}
	clock    func() time.Time
}

// NewService creates a workbasket service over the given store.
func NewService(sessions *session.Coordinator, gate *auth.Gate, store storage.WorkbasketStore, domains []string) *Service {
	known := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d != "" {
			known[d] = struct{}{}
		}
	}
	return &Service{
		sessions: sessions,
		gate:     gate,
		store:    store,
		domains:  known,
		clock:    time.Now,
	}
}

// Get returns the workbasket with the given key. The principal needs READ on
// the workbasket.
func (s *Service) Get(ctx context.Context, key string) (domain.Workbasket, error) {
	key = strings.TrimSpace(key)
	var wb domain.Workbasket
	err := s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		if err := s.gate.CheckWorkbasketPermission(ctx, q, key, domain.PermissionRead); err != nil {
			return err
		}
		var err error
		wb, err = s.store.GetWorkbasket(ctx, q, key)
		if err != nil {
			return fmt.Errorf("get workbasket: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Workbasket{}, err
	}
	return wb, nil
}

// AccessItems returns the access items granted on a workbasket. Restricted
// to business admins.
func (s *Service) AccessItems(ctx context.Context, key string) ([]domain.AccessItem, error) {
	if err := s.gate.CheckRoleMembership(ctx, auth.RoleBusinessAdmin, auth.RoleAdmin); err != nil {
		return nil, err
	}

	var items []domain.AccessItem
	err := s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		if _, err := s.store.GetWorkbasket(ctx, q, strings.TrimSpace(key)); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperrors.WithMetadata(apperrors.CodeWorkbasketNotFound,
					fmt.Sprintf("workbasket %q not found", key),
					map[string]string{"WorkbasketKey": key})
			}
			return fmt.Errorf("get workbasket: %w", err)
		}
		var err error
		items, err = s.store.AccessItems(ctx, q, strings.TrimSpace(key))
		if err != nil {
			return fmt.Errorf("list access items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Create provisions a workbasket. Restricted to business admins.
func (s *Service) Create(ctx context.Context, input domain.CreateWorkbasketInput) (domain.Workbasket, error) {
	if err := s.gate.CheckRoleMembership(ctx, auth.RoleBusinessAdmin, auth.RoleAdmin); err != nil {
		return domain.Workbasket{}, err
	}
	if err := s.checkDomain(input.Domain); err != nil {
		return domain.Workbasket{}, err
	}

	wb, err := domain.CreateWorkbasket(input, s.clock)
	if err != nil {
		return domain.Workbasket{}, err
	}

	err = s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		if err := s.store.InsertWorkbasket(ctx, q, wb); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperrors.WithMetadata(apperrors.CodeWorkbasketInvalid,
					fmt.Sprintf("workbasket %q already exists", wb.Key),
					map[string]string{"WorkbasketKey": wb.Key})
			}
			return fmt.Errorf("insert workbasket: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Workbasket{}, err
	}
	return wb, nil
}

// CreateAccessItem grants a permission set on a workbasket to one access id.
// Restricted to business admins.
func (s *Service) CreateAccessItem(ctx context.Context, item domain.AccessItem) error {
	if err := s.gate.CheckRoleMembership(ctx, auth.RoleBusinessAdmin, auth.RoleAdmin); err != nil {
		return err
	}

	normalized, err := domain.NormalizeAccessItem(item)
	if err != nil {
		return err
	}

	return s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		if _, err := s.store.GetWorkbasket(ctx, q, normalized.WorkbasketKey); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperrors.WithMetadata(apperrors.CodeWorkbasketNotFound,
					fmt.Sprintf("workbasket %q not found", normalized.WorkbasketKey),
					map[string]string{"WorkbasketKey": normalized.WorkbasketKey})
			}
			return fmt.Errorf("get workbasket: %w", err)
		}
		if err := s.store.InsertAccessItem(ctx, q, normalized); err != nil {
			return fmt.Errorf("insert access item: %w", err)
		}
		return nil
	})
}

func (s *Service) checkDomain(domainName string) error {
	domainName = strings.TrimSpace(domainName)
	if _, ok := s.domains[domainName]; !ok {
		return apperrors.WithMetadata(apperrors.CodeDomainUnknown,
			fmt.Sprintf("domain %q is not configured", domainName),
			map[string]string{"Domain": domainName})
	}
	return nil
}
