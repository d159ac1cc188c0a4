// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"context"
	"net/http"

	"github.com/stacklok/tokengate/pkg/token"
)

type tokenContextKey struct{}

// WithToken returns a copy of ctx carrying the authenticated token.
func WithToken(ctx context.Context, d *token.Data) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, d)
}

// TokenFromContext returns the token stored by Middleware.
func TokenFromContext(ctx context.Context) (*token.Data, bool) {
	d, ok := ctx.Value(tokenContextKey{}).(*token.Data)
	return d, ok && d != nil
}

// DenyFunc writes the response for a request that was not allowed.
type DenyFunc func(w http.ResponseWriter, r *http.Request, d Decision)

// Middleware authenticates every request with the engine and stores the
// token in the request context. Requests that do not present a live
// token, or that lack one of required, are passed to deny instead.
//
// Example usage:
//
//	r.With(authz.Middleware(engine, "tokengate", renderDenial)).
//		Get("/token-info", h.tokenInfo)
func Middleware(e *Engine, cookieName string, deny DenyFunc, required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, source := ExtractCredential(r, cookieName)
			d := e.Authorize(r.Context(), Request{
				Credential: cred,
				Source:     source,
				Required:   required,
			})
			if !d.Allowed() {
				deny(w, r, d)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), d.Token)))
		})
	}
}
