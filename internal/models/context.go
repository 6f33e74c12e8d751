package models

import "context"

type principalContextKey struct{}

// Principal is the authenticated caller of an API request.
type Principal struct {
	AccountId string
	Role      string
}

// WithPrincipal attaches the authenticated caller to a context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// GetPrincipal retrieves the authenticated caller from context, or nil if absent.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
