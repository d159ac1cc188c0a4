// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream implements the external identity providers used to log
// users in, and the enrichment steps that add group data after login.
//
// Every login provider implements [Provider]. The flow controller calls
// BeginLogin to build the redirect to the provider and CompleteLogin with
// the parameters of the provider's callback; the result is normalized into
// an [Identity]. Enrichers such as the LDAP group lookup implement
// [Enricher] and run after any login provider.
package upstream

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=types.go Provider,Enricher

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// ProviderType identifies the kind of upstream identity provider.
type ProviderType string

const (
	// ProviderTypeGitHub logs users in with GitHub OAuth.
	ProviderTypeGitHub ProviderType = "github"
	// ProviderTypeOIDC logs users in with an OpenID Connect provider.
	ProviderTypeOIDC ProviderType = "oidc"
)

var (
	// ErrStateMismatch is returned when the state or nonce tying a callback
	// to its login request is missing, expired or different. The login must
	// be restarted.
	ErrStateMismatch = errors.New("authentication state mismatch")

	// ErrUnreachable is returned when the provider could not be contacted or
	// did not answer in time. The request may be retried.
	ErrUnreachable = errors.New("identity provider unreachable")

	// ErrDenied is returned when the provider rejected the login.
	ErrDenied = errors.New("identity provider denied authentication")
)

// Identity is the normalized result of a successful login.
type Identity struct {
	Provider string         `json:"provider"`
	Subject  string         `json:"sub"`
	Username string         `json:"username"`
	Name     string         `json:"name,omitempty"`
	Email    string         `json:"email,omitempty"`
	UID      int            `json:"uid,omitempty"`
	Groups   []string       `json:"groups,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of the identity.
func (i *Identity) Clone() *Identity {
	c := *i
	c.Groups = slices.Clone(i.Groups)
	c.Extra = maps.Clone(i.Extra)
	return &c
}

// AddGroups merges groups into the identity, skipping duplicates.
func (i *Identity) AddGroups(groups ...string) {
	for _, g := range groups {
		if !slices.Contains(i.Groups, g) {
			i.Groups = append(i.Groups, g)
		}
	}
}

// CallbackParams carries what the flow controller knows when a provider
// redirects back: the query parameters of the callback and the values
// saved when the login began.
type CallbackParams struct {
	Code             string
	Error            string
	ErrorDescription string
	CodeVerifier     string
	Nonce            string
}

// LoginOption configures the redirect built by BeginLogin.
type LoginOption func(*loginOptions)

type loginOptions struct {
	nonce        string
	codeVerifier string
}

// WithNonce binds an OIDC nonce to the login.
func WithNonce(nonce string) LoginOption {
	return func(o *loginOptions) {
		o.nonce = nonce
	}
}

// WithPKCE sends the S256 challenge derived from verifier.
func WithPKCE(verifier string) LoginOption {
	return func(o *loginOptions) {
		o.codeVerifier = verifier
	}
}

func applyLoginOptions(opts []LoginOption) *loginOptions {
	o := &loginOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Provider is an external identity provider that users log in with.
type Provider interface {
	// Name returns the configured name used to select the provider.
	Name() string

	// Type returns the provider type.
	Type() ProviderType

	// BeginLogin returns the URL to send the browser to.
	BeginLogin(state string, opts ...LoginOption) (string, error)

	// CompleteLogin exchanges the callback parameters for a verified identity.
	// Errors wrap ErrStateMismatch, ErrUnreachable or ErrDenied.
	CompleteLogin(ctx context.Context, params CallbackParams) (*Identity, error)
}

// Enricher adds information to an identity after a provider verified it.
type Enricher interface {
	// Enrich updates id in place.
	Enrich(ctx context.Context, id *Identity) error
}
