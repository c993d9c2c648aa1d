// Package identity is the Identity Gate boundary of chatrelay.
//
// The core only consumes Gate: it turns a bearer credential into a model.Identity.
// JWTGate and Directory provide a self-contained implementation so the server can run
// without an external identity provider.
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/coregx/chatrelay/model"
)

// Gate authenticates a bearer credential.
type Gate interface {
	// Authenticate returns the identity behind token or an UNAUTHORIZED error.
	Authenticate(ctx context.Context, token string) (model.Identity, error)
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
// Returns "" when the header is missing or uses another scheme.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(model.Identity)
	return id, ok && !id.IsZero()
}
