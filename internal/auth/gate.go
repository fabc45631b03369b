// Package auth evaluates caller roles and workbasket permissions. Checks are
// re-evaluated per operation: access lists can change between calls, so no
// grant is ever cached.
package auth

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/workdesk/internal/platform/errors"
	"github.com/louisbranch/workdesk/internal/platform/requestctx"
	"github.com/louisbranch/workdesk/internal/storage"
	workbasket "github.com/louisbranch/workdesk/internal/workbasket/domain"
)

// Role names a coarse engine-wide capability set.
type Role string

const (
	// RoleUser may operate on tasks in workbaskets it holds permissions on.
	RoleUser Role = "USER"
	// RoleBusinessAdmin may manage workbaskets and classifications.
	RoleBusinessAdmin Role = "BUSINESS_ADMIN"
	// RoleAdmin passes every role and workbasket permission check.
	RoleAdmin Role = "ADMIN"
	// RoleMonitor may read monitoring data.
	RoleMonitor Role = "MONITOR"
)

// Gate is the authorization gate evaluated before every mutation.
type Gate struct {
	members     map[Role]map[string]struct{}
	workbaskets storage.WorkbasketStore
}

// NewGate creates a gate from the configured role membership lists.
func NewGate(members map[Role][]string, workbaskets storage.WorkbasketStore) *Gate {
	index := make(map[Role]map[string]struct{}, len(members))
	for role, accessIDs := range members {
		set := make(map[string]struct{}, len(accessIDs))
		for _, accessID := range accessIDs {
			accessID = strings.TrimSpace(accessID)
			if accessID != "" {
				set[accessID] = struct{}{}
			}
		}
		index[role] = set
	}
	return &Gate{members: index, workbaskets: workbaskets}
}

// IsUserInRole reports whether the caller is a member of at least one of the
// given roles.
func (g *Gate) IsUserInRole(ctx context.Context, roles ...Role) bool {
	principal, ok := requestctx.PrincipalFromContext(ctx)
	if !ok {
		return false
	}
	for _, role := range roles {
		set := g.members[role]
		for _, accessID := range principal.AccessIDs() {
			if _, found := set[accessID]; found {
				return true
			}
		}
	}
	return false
}

// CheckRoleMembership fails with NOT_AUTHORIZED unless the caller is a member
// of at least one of the given roles.
func (g *Gate) CheckRoleMembership(ctx context.Context, roles ...Role) error {
	if g.IsUserInRole(ctx, roles...) {
		return nil
	}
	principal, _ := requestctx.PrincipalFromContext(ctx)
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	return apperrors.WithMetadata(
		apperrors.CodeNotAuthorized,
		fmt.Sprintf("user %q is not a member of any required role", principal.UserID),
		map[string]string{
			"RequiredRoles": strings.Join(names, ","),
			"UserId":        principal.UserID,
		},
	)
}

// CheckWorkbasketPermission resolves the workbasket and fails with
// NOT_AUTHORIZED unless the caller holds at least one of the required
// permissions on it. The workbasket is resolved first: a missing workbasket
// is reported as WORKBASKET_NOT_FOUND regardless of caller permissions.
func (g *Gate) CheckWorkbasketPermission(ctx context.Context, q storage.Querier, workbasketKey string, permissions ...workbasket.Permission) error {
	if _, err := g.workbaskets.GetWorkbasket(ctx, q, workbasketKey); err != nil {
		if apperrors.Is(err, storage.ErrNotFound) {
			return apperrors.WithMetadata(
				apperrors.CodeWorkbasketNotFound,
				fmt.Sprintf("workbasket %q was not found", workbasketKey),
				map[string]string{"WorkbasketKey": workbasketKey},
			)
		}
		return fmt.Errorf("resolve workbasket %q: %w", workbasketKey, err)
	}

	if g.IsUserInRole(ctx, RoleAdmin) {
		return nil
	}

	principal, _ := requestctx.PrincipalFromContext(ctx)
	items, err := g.workbaskets.AccessItems(ctx, q, workbasketKey)
	if err != nil {
		return fmt.Errorf("load access items for %q: %w", workbasketKey, err)
	}
	for _, item := range items {
		for _, accessID := range principal.AccessIDs() {
			if item.AccessID == accessID && item.HasAny(permissions...) {
				return nil
			}
		}
	}

	names := make([]string, 0, len(permissions))
	for _, permission := range permissions {
		names = append(names, string(permission))
	}
	return apperrors.WithMetadata(
		apperrors.CodeNotAuthorized,
		fmt.Sprintf("user %q holds none of the required permissions on the workbasket", principal.UserID),
		map[string]string{
			"RequiredPermissions": strings.Join(names, ","),
			"UserId":              principal.UserID,
		},
	)
}
