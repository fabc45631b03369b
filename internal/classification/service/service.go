// Package service resolves and maintains classifications. Resolution is
// strictly domain-scoped: a key that exists in another domain does not
// satisfy a lookup in this one.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/workdesk/internal/classification/domain"
	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	"github.com/louisbranch/workdesk/internal/session"
	"github.com/louisbranch/workdesk/internal/storage"
)

// Service resolves classifications inside coordinator-managed sessions.
type Service struct {
	sessions *session.Coordinator
	store    storage.ClassificationStore
	domains  map[string]struct{}
	clock    func() time.Time
}

// NewService creates a classification service over the given store. domains
// lists the domains the engine is configured for.
func NewService(sessions *session.Coordinator, store storage.ClassificationStore, domains []string) *Service {
	known := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d != "" {
			known[d] = struct{}{}
		}
	}
	return &Service{
		sessions: sessions,
		store:    store,
		domains:  known,
		clock:    time.Now,
	}
}

// DomainExists reports whether the engine is configured for the domain.
func (s *Service) DomainExists(domain string) bool {
	_, ok := s.domains[strings.TrimSpace(domain)]
	return ok
}

// Resolve returns the classification registered for (key, domain).
func (s *Service) Resolve(ctx context.Context, key, domainName string) (domain.Classification, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Classification{}, apperrors.New(apperrors.CodeClassificationInvalid, "classification key is required")
	}
	if err := s.checkDomain(domainName); err != nil {
		return domain.Classification{}, err
	}

	var resolved domain.Classification
	err := s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		var err error
		resolved, err = Resolve(ctx, s.store, q, key, domainName)
		return err
	})
	if err != nil {
		return domain.Classification{}, err
	}
	return resolved, nil
}

// Create registers a classification in its domain. Used to seed the engine;
// the (key, domain) pair must be unique.
func (s *Service) Create(ctx context.Context, input domain.CreateClassificationInput) (domain.Classification, error) {
	if err := s.checkDomain(input.Domain); err != nil {
		return domain.Classification{}, err
	}

	created, err := domain.CreateClassification(input, s.clock)
	if err != nil {
		return domain.Classification{}, err
	}

	err = s.sessions.Run(ctx, func(ctx context.Context, q storage.Querier) error {
		if err := s.store.InsertClassification(ctx, q, created); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return apperrors.WithMetadata(apperrors.CodeClassificationInvalid,
					fmt.Sprintf("classification %q already exists in domain %q", created.Key, created.Domain),
					map[string]string{"ClassificationKey": created.Key, "Domain": created.Domain})
			}
			return fmt.Errorf("insert classification: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Classification{}, err
	}
	return created, nil
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

// Resolve looks up (key, domain) on an existing session handle. Callers that
// already hold a session use this instead of Service.Resolve to stay on the
// same transactional handle.
func Resolve(ctx context.Context, store storage.ClassificationStore, q storage.Querier, key, domainName string) (domain.Classification, error) {
	resolved, err := store.GetClassification(ctx, q, key, domainName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Classification{}, apperrors.WithMetadata(apperrors.CodeClassificationNotFound,
				fmt.Sprintf("classification %q not found in domain %q", key, domainName),
				map[string]string{"ClassificationKey": key, "Domain": domainName})
		}
		return domain.Classification{}, fmt.Errorf("get classification: %w", err)
	}
	return resolved, nil
}
