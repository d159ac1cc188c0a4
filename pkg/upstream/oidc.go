// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/stacklok/tokengate/pkg/networking"
)

// Default claim names read from ID tokens.
const (
	DefaultUsernameClaim = "preferred_username"
	DefaultGroupsClaim   = "groups"
)

// OIDCConfig configures an OpenID Connect login provider.
type OIDCConfig struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// UsernameClaim names the claim holding the username.
	UsernameClaim string
	// GroupsClaim names the claim holding group memberships.
	GroupsClaim string
	// UIDClaim optionally names a numeric user id claim.
	UIDClaim string
}

// Validate checks that OIDCConfig has all required fields.
func (c *OIDCConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required for OIDC providers")
	}
	if c.ClientID == "" {
		return errors.New("oidc client_id is required")
	}
	if c.RedirectURL == "" {
		return errors.New("oidc redirect_url is required")
	}
	if len(c.Scopes) > 0 && !slices.Contains(c.Scopes, oidc.ScopeOpenID) {
		return errors.New("openid scope is required for OIDC provider")
	}
	return nil
}

// ErrNonceMismatch is returned when the ID token nonce differs from the one
// sent with the authorization request.
var ErrNonceMismatch = errors.New("ID token nonce does not match expected value")

// ErrNonceMissing is returned when a nonce was sent but the ID token has none.
var ErrNonceMissing = errors.New("ID token missing nonce claim when nonce was expected")

// OIDCProvider logs users in with an OpenID Connect provider discovered
// from its issuer URL.
type OIDCProvider struct {
	config       *OIDCConfig
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	httpClient   *http.Client
}

var _ Provider = (*OIDCProvider)(nil)

// OIDCOption configures an OIDCProvider.
type OIDCOption func(*OIDCProvider)

// WithOIDCHTTPClient sets the HTTP client used for discovery and token calls.
func WithOIDCHTTPClient(client *http.Client) OIDCOption {
	return func(p *OIDCProvider) {
		p.httpClient = client
	}
}

// NewOIDCProvider performs discovery against the issuer and returns a
// ready provider. Discovery failures wrap ErrUnreachable.
func NewOIDCProvider(ctx context.Context, config *OIDCConfig, opts ...OIDCOption) (*OIDCProvider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &OIDCProvider{config: config}
	for _, opt := range opts {
		opt(p)
	}
	if p.httpClient == nil {
		client, err := networking.NewHttpClientBuilder().Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		p.httpClient = client
	}

	slog.Debug("creating OIDC provider",
		"issuer", config.Issuer,
		"client_id", config.ClientID,
	)

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to discover OIDC endpoints: %w", ErrUnreachable, err)
	}

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	endpoint := provider.Endpoint()
	p.oauth2Config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoint.AuthURL,
			TokenURL:  endpoint.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: config.ClientID})
	return p, nil
}

// Name returns the configured provider name.
func (p *OIDCProvider) Name() string {
	if p.config.Name != "" {
		return p.config.Name
	}
	return string(ProviderTypeOIDC)
}

// Type returns ProviderTypeOIDC.
func (*OIDCProvider) Type() ProviderType {
	return ProviderTypeOIDC
}

// BeginLogin returns the provider's authorization URL.
func (p *OIDCProvider) BeginLogin(state string, opts ...LoginOption) (string, error) {
	if state == "" {
		return "", errors.New("state is required")
	}
	o := applyLoginOptions(opts)
	var params []oauth2.AuthCodeOption
	if o.nonce != "" {
		params = append(params, oidc.Nonce(o.nonce))
	}
	if o.codeVerifier != "" {
		params = append(params, oauth2.S256ChallengeOption(o.codeVerifier))
	}
	return p.oauth2Config.AuthCodeURL(state, params...), nil
}

// CompleteLogin exchanges the code, verifies the ID token and its nonce,
// and reads identity claims from it.
func (p *OIDCProvider) CompleteLogin(ctx context.Context, params CallbackParams) (*Identity, error) {
	if params.Error != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrDenied, params.Error, params.ErrorDescription)
	}
	if params.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrDenied)
	}

	ctx = oidc.ClientContext(ctx, p.httpClient)
	var exchangeOpts []oauth2.AuthCodeOption
	if params.CodeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(params.CodeVerifier))
	}
	tok, err := p.oauth2Config.Exchange(ctx, params.Code, exchangeOpts...)
	if err != nil {
		return nil, classifyExchangeError("oidc code exchange", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: token response has no ID token", ErrDenied)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		if isNetworkError(err) {
			return nil, fmt.Errorf("%w: failed to verify ID token: %w", ErrUnreachable, err)
		}
		return nil, fmt.Errorf("%w: failed to verify ID token: %w", ErrDenied, err)
	}
	if params.Nonce != "" {
		if idToken.Nonce == "" {
			return nil, fmt.Errorf("%w: %w", ErrStateMismatch, ErrNonceMissing)
		}
		if idToken.Nonce != params.Nonce {
			return nil, fmt.Errorf("%w: %w", ErrStateMismatch, ErrNonceMismatch)
		}
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ID token claims: %w", ErrDenied, err)
	}
	return p.identityFromClaims(idToken.Subject, claims)
}

func (p *OIDCProvider) identityFromClaims(subject string, claims map[string]any) (*Identity, error) {
	usernameClaim := valueOr(p.config.UsernameClaim, DefaultUsernameClaim)
	groupsClaim := valueOr(p.config.GroupsClaim, DefaultGroupsClaim)

	username, _ := claims[usernameClaim].(string)
	if username == "" {
		return nil, fmt.Errorf("%w: ID token missing %s claim", ErrDenied, usernameClaim)
	}

	id := &Identity{
		Provider: p.Name(),
		Subject:  subject,
		Username: username,
		Extra:    map[string]any{},
	}
	id.Name, _ = claims["name"].(string)
	id.Email, _ = claims["email"].(string)

	if p.config.UIDClaim != "" {
		uid, err := claimInt(claims[p.config.UIDClaim])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s claim: %w", ErrDenied, p.config.UIDClaim, err)
		}
		id.UID = uid
	}

	switch groups := claims[groupsClaim].(type) {
	case []any:
		for _, g := range groups {
			if s, ok := g.(string); ok {
				id.AddGroups(s)
			}
		}
	case string:
		id.AddGroups(groups)
	}

	if iss, ok := claims["iss"].(string); ok {
		id.Extra["iss"] = iss
	}
	return id, nil
}

func claimInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	case nil:
		return 0, errors.New("claim not present")
	}
	return 0, fmt.Errorf("unexpected claim type %T", v)
}
