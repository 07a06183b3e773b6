package domain

import "context"

// Principal is the caller a request acts for. Both fields are empty for
// anonymous requests.
type Principal struct {
	UserID string
	Token  string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}
