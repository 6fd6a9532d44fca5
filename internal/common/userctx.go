package common

import "context"

// contextKey keys the authenticated owner identity resolved by an
// external auth collaborator (spec.md §1's "external collaborator" —
// out of core scope). The HTTP layer reads it from the X-Owner-Id header
// and stores it in the request context; every core operation that is
// owner-scoped reads it from context instead of trusting a path or body
// parameter.
type contextKey int

const ownerContextKey contextKey = iota

// WithOwnerID stores the resolved owner id in the request context.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerContextKey, ownerID)
}

// OwnerIDFromContext retrieves the owner id stored by WithOwnerID, or ""
// if absent.
func OwnerIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ownerContextKey).(string)
	return v
}
