package subscriber

import "context"

type identityKey struct{}

// Identity is the execution identity a handler runs under.
type Identity struct {
    Username string
    RunAs    RunAs
}

func NewContext(ctx context.Context, identity Identity) context.Context {
    return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity established by the Host.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
    identity, ok := ctx.Value(identityKey{}).(Identity)
    return identity, ok
}
