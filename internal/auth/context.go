package auth

import (
	"context"
	"time"
)

// Identity is the authenticated caller extracted from a verified, unrevoked
// token. It is attached to the request context by the authentication stage
// and read by the authorization stage; composition order guarantees the
// former runs first.
type Identity struct {
	UserID     string
	SuperAdmin bool
	JTI        string
	ExpiresAt  time.Time
}

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &ident)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil || v.UserID == "" {
		return Identity{}, false
	}
	return *v, true
}
