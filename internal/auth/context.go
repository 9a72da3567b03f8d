package auth

import "context"

// Identity is the authenticated caller attached to the request context by the
// gate middleware.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

type identityKey struct{}

func withIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the authenticated identity, if any. Handlers behind
// OptionalAuthenticate must check ok before trusting the value.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}
