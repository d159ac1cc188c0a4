// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/tokengate/pkg/storage/mocks"
	"github.com/stacklok/tokengate/pkg/token"
)

func TestExtractCredential(t *testing.T) {
	t.Parallel()
	const tok = "gt-AAAAAAAAAAAAAAAAAAAAAA.BBBBBBBBBBBBBBBBBBBBBB"

	tests := []struct {
		name       string
		setup      func(*http.Request)
		wantCred   string
		wantSource Source
	}{
		{
			name:       "none",
			setup:      func(*http.Request) {},
			wantSource: SourceNone,
		},
		{
			name:       "bearer",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) },
			wantCred:   tok,
			wantSource: SourceBearer,
		},
		{
			name:       "bearer is case insensitive",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "bearer "+tok) },
			wantCred:   tok,
			wantSource: SourceBearer,
		},
		{
			name:       "basic username",
			setup:      func(r *http.Request) { r.SetBasicAuth(tok, BasicPlaceholder) },
			wantCred:   tok,
			wantSource: SourceBasicUsername,
		},
		{
			name:       "basic password",
			setup:      func(r *http.Request) { r.SetBasicAuth(BasicPlaceholder, tok) },
			wantCred:   tok,
			wantSource: SourceBasicPassword,
		},
		{
			name:       "basic with token prefix in username",
			setup:      func(r *http.Request) { r.SetBasicAuth(tok, "anything") },
			wantCred:   tok,
			wantSource: SourceBasicUsername,
		},
		{
			name:       "cookie",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "tokengate", Value: tok}) },
			wantCred:   tok,
			wantSource: SourceCookie,
		},
		{
			name: "header wins over cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+tok)
				r.AddCookie(&http.Cookie{Name: "tokengate", Value: "other"})
			},
			wantCred:   tok,
			wantSource: SourceBearer,
		},
		{
			name: "unsupported scheme falls back to cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Negotiate abc")
				r.AddCookie(&http.Cookie{Name: "tokengate", Value: tok})
			},
			wantCred:   tok,
			wantSource: SourceCookie,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/auth", nil)
			tt.setup(r)
			cred, source := ExtractCredential(r, "tokengate")
			assert.Equal(t, tt.wantCred, cred)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	h := newHasher(t)
	tok, data := liveToken(h, "user:token")

	ctrl := gomock.NewController(t)
	store := mocks.NewMockTokenStore(ctrl)
	store.EXPECT().GetToken(gomock.Any(), tok.Key).Return(data, nil).AnyTimes()
	e := NewEngine(store, h)

	var denied []Outcome
	deny := func(w http.ResponseWriter, _ *http.Request, d Decision) {
		denied = append(denied, d.Outcome)
		w.WriteHeader(http.StatusUnauthorized)
	}
	var seen *token.Data
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = TokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	handler := Middleware(e, "tokengate", deny)(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []Outcome{DenyUnauthenticated}, denied)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.String())
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "jane", seen.Username)

	scoped := Middleware(e, "tokengate", deny, "admin:token")(next)
	rec = httptest.NewRecorder()
	scoped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []Outcome{DenyUnauthenticated, DenyInsufficientScope}, denied)
}
