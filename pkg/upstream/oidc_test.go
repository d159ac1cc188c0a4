// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/oauth2-proxy/mockoidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startMockOIDC(t *testing.T) *mockoidc.MockOIDC {
	t.Helper()
	m, err := mockoidc.Run()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Shutdown()
	})
	return m
}

func newTestOIDCProvider(t *testing.T, m *mockoidc.MockOIDC, cfg OIDCConfig) *OIDCProvider {
	t.Helper()
	cfg.Issuer = m.Issuer()
	cfg.ClientID = m.ClientID
	cfg.ClientSecret = m.ClientSecret
	cfg.RedirectURL = "https://gate.example.com/login/callback"
	if cfg.Scopes == nil {
		cfg.Scopes = []string{"openid", "profile", "email", "groups"}
	}
	p, err := NewOIDCProvider(t.Context(), &cfg, WithOIDCHTTPClient(&http.Client{}))
	require.NoError(t, err)
	return p
}

// authorize follows the provider's authorization redirect and returns the
// code and state it sends back.
func authorize(t *testing.T, authURL string) (string, string) {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func TestOIDCProvider_Login(t *testing.T) {
	t.Parallel()

	m := startMockOIDC(t)
	m.QueueUser(&mockoidc.MockUser{
		Subject:           "sub-1",
		Email:             "jane@example.com",
		EmailVerified:     true,
		PreferredUsername: "jane",
		Groups:            []string{"eng", "ops"},
	})
	p := newTestOIDCProvider(t, m, OIDCConfig{Name: "corp"})

	assert.Equal(t, "corp", p.Name())
	assert.Equal(t, ProviderTypeOIDC, p.Type())

	authURL, err := p.BeginLogin("state-1", WithNonce("nonce-1"))
	require.NoError(t, err)
	code, state := authorize(t, authURL)
	require.NotEmpty(t, code)
	assert.Equal(t, "state-1", state)

	id, err := p.CompleteLogin(t.Context(), CallbackParams{Code: code, Nonce: "nonce-1"})
	require.NoError(t, err)
	assert.Equal(t, "corp", id.Provider)
	assert.Equal(t, "sub-1", id.Subject)
	assert.Equal(t, "jane", id.Username)
	assert.Equal(t, "jane@example.com", id.Email)
	assert.Equal(t, []string{"eng", "ops"}, id.Groups)
}

func TestOIDCProvider_NonceMismatch(t *testing.T) {
	t.Parallel()

	m := startMockOIDC(t)
	p := newTestOIDCProvider(t, m, OIDCConfig{})

	authURL, err := p.BeginLogin("state-1", WithNonce("nonce-1"))
	require.NoError(t, err)
	code, _ := authorize(t, authURL)

	_, err = p.CompleteLogin(t.Context(), CallbackParams{Code: code, Nonce: "other-nonce"})
	require.ErrorIs(t, err, ErrStateMismatch)
	require.ErrorIs(t, err, ErrNonceMismatch)
}

func TestOIDCProvider_BadCode(t *testing.T) {
	t.Parallel()

	m := startMockOIDC(t)
	p := newTestOIDCProvider(t, m, OIDCConfig{})

	_, err := p.CompleteLogin(t.Context(), CallbackParams{Code: "not-a-code"})
	require.ErrorIs(t, err, ErrDenied)

	_, err = p.CompleteLogin(t.Context(), CallbackParams{Error: "access_denied"})
	require.ErrorIs(t, err, ErrDenied)
}

func TestOIDCProvider_MissingUsernameClaim(t *testing.T) {
	t.Parallel()

	m := startMockOIDC(t)
	p := newTestOIDCProvider(t, m, OIDCConfig{UsernameClaim: "uid"})

	authURL, err := p.BeginLogin("state-1")
	require.NoError(t, err)
	code, _ := authorize(t, authURL)

	_, err = p.CompleteLogin(t.Context(), CallbackParams{Code: code})
	require.ErrorIs(t, err, ErrDenied)
}

func TestNewOIDCProvider_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewOIDCProvider(t.Context(), nil)
	require.Error(t, err)

	_, err = NewOIDCProvider(t.Context(), &OIDCConfig{
		Issuer:      "https://issuer.example.com",
		ClientID:    "id",
		RedirectURL: "https://gate.example.com/login/callback",
		Scopes:      []string{"profile"},
	})
	require.Error(t, err)

	_, err = NewOIDCProvider(t.Context(), &OIDCConfig{
		Issuer:      "http://127.0.0.1:1",
		ClientID:    "id",
		RedirectURL: "https://gate.example.com/login/callback",
	}, WithOIDCHTTPClient(&http.Client{}))
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestIdentityFromClaims(t *testing.T) {
	t.Parallel()

	p := &OIDCProvider{config: &OIDCConfig{UIDClaim: "uid_number", GroupsClaim: "roles"}}
	id, err := p.identityFromClaims("sub", map[string]any{
		"preferred_username": "jane",
		"uid_number":         float64(4001),
		"roles":              "admins",
		"iss":                "https://issuer",
	})
	require.NoError(t, err)
	assert.Equal(t, 4001, id.UID)
	assert.Equal(t, []string{"admins"}, id.Groups)
	assert.Equal(t, "https://issuer", id.Extra["iss"])

	_, err = p.identityFromClaims("sub", map[string]any{"preferred_username": "jane"})
	require.ErrorIs(t, err, ErrDenied)
}
