// ABOUTME: Request context helpers carrying the authenticated public key
// ABOUTME: Provides WithIdentity/FromContext for handlers behind BearerMiddleware

package auth

import (
	"context"
	"encoding/hex"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	PubKey []byte
}

// PubKeyHex returns the hex-encoded public key.
func (i *Identity) PubKeyHex() string {
	return hex.EncodeToString(i.PubKey)
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok {
		return nil
	}
	return id
}
