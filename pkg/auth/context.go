package auth

import (
	"context"
)

// contextKey is an unexported type for context keys in this package.
type contextKey int

const (
	// claimsKey stores the validated Claims.
	claimsKey contextKey = iota
)

// ContextWithClaims returns a copy of ctx carrying claims. The HTTP
// middleware and gRPC interceptors call it after a successful validation.
func ContextWithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims stored by [ContextWithClaims].
//
//	claims, ok := auth.ClaimsFromContext(r.Context())
//	if !ok {
//	    http.Error(w, "unauthenticated", http.StatusUnauthorized)
//	    return
//	}
//	logger.Info("request", "sub", claims.Subject())
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(Claims)
	return claims, ok && claims != nil
}
