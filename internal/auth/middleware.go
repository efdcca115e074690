// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package auth

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hearthnode/hearth/internal/logging"
)

// contextKey is unexported to prevent collisions with other packages.
type contextKey string

// claimsContextKey stores the verified *Claims in the request context.
const claimsContextKey contextKey = "hearth.claims"

// Middleware authenticates requests against the token manager.
type Middleware struct {
	tokens *TokenManager
}

// NewMiddleware creates the bearer-token middleware.
func NewMiddleware(tokens *TokenManager) *Middleware {
	return &Middleware{tokens: tokens}
}

// Authenticate wraps a handler and requires a valid bearer token.
//
// Missing, malformed, expired or tampered tokens all produce the same
// uniform 401 response so callers cannot probe which check failed.
func (m *Middleware) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := ExtractBearer(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w)
			return
		}
		claims, err := m.tokens.Verify(token)
		if err != nil {
			logging.Debug().Str("path", r.URL.Path).Msg("rejected bearer token")
			unauthorized(w)
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// ClaimsFromContext returns the verified claims set by Authenticate.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}

// WithClaims injects claims into a context. Intended for tests and for
// the WebSocket endpoint, which verifies its token from a query
// parameter instead of the Authorization header.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	//nolint:errcheck // response write failure leaves nothing to do
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "error",
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": "invalid or expired token",
		},
	})
}
