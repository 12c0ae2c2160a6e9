package httpx

import (
	"context"

	"github.com/perchboard/perch/pkg/tokenx"
)

type ctxKey string

const (
	ctxKeyClaims     ctxKey = "claims"
	ctxKeyIdentifier ctxKey = "identifier"
	ctxKeySecret     ctxKey = "secret"
)

// WithClaims attaches validated access-token claims to the request context.
func WithClaims(ctx context.Context, c tokenx.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

// ClaimsFromContext returns the validated claims, if the session interceptor
// attached any.
func ClaimsFromContext(ctx context.Context) (tokenx.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(tokenx.Claims)
	return c, ok
}

// WithCredentials stashes the credential fields the login audit middleware
// extracted from the request body, so the handler does not re-parse it.
func WithCredentials(ctx context.Context, identifier, secret string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyIdentifier, identifier)
	return context.WithValue(ctx, ctxKeySecret, secret)
}

// CredentialsFromContext returns the extracted credential fields.
func CredentialsFromContext(ctx context.Context) (identifier, secret string, ok bool) {
	identifier, ok = ctx.Value(ctxKeyIdentifier).(string)
	if !ok {
		return "", "", false
	}
	secret, ok = ctx.Value(ctxKeySecret).(string)
	return identifier, secret, ok
}
