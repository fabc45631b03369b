// Package requestctx carries the authenticated caller identity through
// context. The engine only ever reads the principal; it never mutates it.
package requestctx

import "context"

// Principal identifies the authenticated caller for role and permission checks.
type Principal struct {
	UserID   string
	GroupIDs []string
}

// AccessIDs returns every identity the principal may be granted access under:
// the user id followed by all group ids.
func (p Principal) AccessIDs() []string {
	ids := make([]string, 0, len(p.GroupIDs)+1)
	if p.UserID != "" {
		ids = append(ids, p.UserID)
	}
	ids = append(ids, p.GroupIDs...)
	return ids
}

// principalContextKey is the context key for the caller principal.
type principalContextKey struct{}

// WithPrincipal stores a caller principal in context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the caller principal stored in context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	value, ok := ctx.Value(principalContextKey{}).(Principal)
	return value, ok
}
