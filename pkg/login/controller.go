// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package login drives a browser login through an external identity
// provider to a session token.
//
// A login moves through a fixed sequence of states:
//
//	Start -> RedirectedToProvider -> AwaitingCallback -> TicketIssued -> TokenIssued
//
// Any step may instead end in Failed. The state of a login between the
// redirect and the callback lives in the state store, keyed by the random
// OAuth state parameter. The callback produces a single-use ticket which
// is exchanged for the session token on the gateway's own host, so the
// token never appears in a provider redirect.
package login

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stacklok/toolhive-core/httperr"
	"golang.org/x/oauth2"

	"github.com/stacklok/tokengate/pkg/metrics"
	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
	"github.com/stacklok/tokengate/pkg/upstream"
)

// State is the position of a login in the flow.
type State int

const (
	// StateStart is a login that has not contacted a provider.
	StateStart State = iota
	// StateRedirectedToProvider is a login whose browser was sent to the
	// provider.
	StateRedirectedToProvider
	// StateAwaitingCallback is a login whose state was saved and which
	// waits for the provider callback.
	StateAwaitingCallback
	// StateTicketIssued is a login whose callback was verified.
	StateTicketIssued
	// StateTokenIssued is a completed login.
	StateTokenIssued
	// StateFailed is a login that cannot continue.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateRedirectedToProvider:
		return "redirected_to_provider"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateTicketIssued:
		return "ticket_issued"
	case StateTokenIssued:
		return "token_issued"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// TicketPath is the gateway path that redeems login tickets.
const TicketPath = "/login/ticket"

var (
	// ErrInvalidReturnURL is returned for a missing return URL or one that
	// points outside the gateway's host.
	ErrInvalidReturnURL = httperr.WithCode(
		errors.New("invalid return URL"),
		http.StatusUnprocessableEntity,
	)

	// ErrUnknownProvider is returned when the requested provider is not
	// configured.
	ErrUnknownProvider = httperr.WithCode(
		errors.New("unknown identity provider"),
		http.StatusBadRequest,
	)

	// ErrInvalidTicket is returned when a ticket cannot be redeemed.
	ErrInvalidTicket = httperr.WithCode(
		errors.New("invalid or expired login ticket"),
		http.StatusForbidden,
	)
)

// RootIssuer creates session tokens for verified identities.
type RootIssuer interface {
	IssueRoot(ctx context.Context, id *upstream.Identity, ip string) (token.Token, *token.Data, error)
}

// Config configures a Controller.
type Config struct {
	// BaseURL is the external URL of the gateway. Return URLs must be on
	// its host.
	BaseURL string
}

// Controller runs the login flow.
type Controller struct {
	baseURL   *url.URL
	providers *upstream.Registry
	states    storage.StateStore
	tickets   storage.TicketStore
	issuer    RootIssuer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics counts logins by provider and result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// NewController creates a Controller.
func NewController(
	cfg Config,
	providers *upstream.Registry,
	states storage.StateStore,
	tickets storage.TicketStore,
	issuer RootIssuer,
	opts ...Option,
) (*Controller, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be an absolute http(s) URL", cfg.BaseURL)
	}
	c := &Controller{
		baseURL:   base,
		providers: providers,
		states:    states,
		tickets:   tickets,
		issuer:    issuer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ValidateReturnURL resolves raw against the base URL and rejects URLs
// that leave the gateway's host.
func (c *Controller) ValidateReturnURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: no destination URL specified", ErrInvalidReturnURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidReturnURL, err)
	}
	if !u.IsAbs() {
		if u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(raw, "//") {
			return "", fmt.Errorf("%w: %q is not an absolute path", ErrInvalidReturnURL, raw)
		}
		u = c.baseURL.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidReturnURL, u.Scheme)
	}
	if !strings.EqualFold(u.Hostname(), c.baseURL.Hostname()) {
		return "", fmt.Errorf("%w: host %q is not allowed", ErrInvalidReturnURL, u.Hostname())
	}
	return u.String(), nil
}

// Begin starts a login with the named provider and returns the URL to send
// the browser to. An empty provider name selects the default provider.
func (c *Controller) Begin(ctx context.Context, providerName, returnURL string) (string, error) {
	provider, ok := c.providers.Get(providerName)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	returnURL, err := c.ValidateReturnURL(returnURL)
	if err != nil {
		return "", err
	}

	state := rand.Text()
	login := &storage.LoginState{
		Provider:     provider.Name(),
		ReturnURL:    returnURL,
		CodeVerifier: oauth2.GenerateVerifier(),
		Nonce:        rand.Text(),
		CreatedAt:    time.Now().UTC(),
	}
	redirect, err := provider.BeginLogin(state,
		upstream.WithNonce(login.Nonce),
		upstream.WithPKCE(login.CodeVerifier),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build %s login URL: %w", provider.Name(), err)
	}
	if err := c.states.SaveState(ctx, state, login); err != nil {
		return "", err
	}

	c.transition(ctx, provider.Name(), StateRedirectedToProvider)
	return redirect, nil
}

// Callback holds the query parameters of a provider callback.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// TicketRedirect is where the browser goes after a verified callback.
type TicketRedirect struct {
	// URL redeems the ticket on the gateway's host.
	URL string
	// Provider that verified the login.
	Provider string
}

// Complete verifies a provider callback and issues a login ticket. A
// callback whose state is missing, expired or already used fails with
// upstream.ErrStateMismatch and creates nothing.
func (c *Controller) Complete(ctx context.Context, cb Callback) (*TicketRedirect, error) {
	if cb.State == "" {
		return nil, c.fail(ctx, "", fmt.Errorf("%w: callback without state", upstream.ErrStateMismatch))
	}
	login, err := c.states.ConsumeState(ctx, cb.State)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, c.fail(ctx, "", fmt.Errorf("%w: unknown or expired login state", upstream.ErrStateMismatch))
	case err != nil:
		return nil, c.fail(ctx, "", err)
	}
	c.transition(ctx, login.Provider, StateAwaitingCallback)

	provider, ok := c.providers.Get(login.Provider)
	if !ok {
		return nil, c.fail(ctx, login.Provider, fmt.Errorf("%w: %q", ErrUnknownProvider, login.Provider))
	}
	id, err := provider.CompleteLogin(ctx, upstream.CallbackParams{
		Code:             cb.Code,
		Error:            cb.Error,
		ErrorDescription: cb.ErrorDescription,
		CodeVerifier:     login.CodeVerifier,
		Nonce:            login.Nonce,
	})
	if err != nil {
		return nil, c.fail(ctx, login.Provider, err)
	}
	if id.Provider == "" {
		id.Provider = login.Provider
	}
	if err := c.providers.Enrich(ctx, id); err != nil {
		return nil, c.fail(ctx, login.Provider, err)
	}

	ticket, err := c.tickets.CreateTicket(ctx, &storage.TicketPayload{
		Identity:  id,
		ReturnURL: login.ReturnURL,
	})
	if err != nil {
		return nil, c.fail(ctx, login.Provider, err)
	}

	c.transition(ctx, login.Provider, StateTicketIssued, "user", id.Username)
	redirect := c.baseURL.JoinPath(TicketPath)
	redirect.RawQuery = url.Values{"ticket": {ticket.String()}}.Encode()
	return &TicketRedirect{URL: redirect.String(), Provider: login.Provider}, nil
}

// Result is a completed login.
type Result struct {
	Token     token.Token
	Data      *token.Data
	ReturnURL string
}

// Redeem exchanges a ticket for a session token.
func (c *Controller) Redeem(ctx context.Context, rawTicket, ip string) (*Result, error) {
	ticket, err := token.ParseTicket(rawTicket)
	if err != nil {
		return nil, c.fail(ctx, "", fmt.Errorf("%w: %w", ErrInvalidTicket, err))
	}
	payload, err := c.tickets.RedeemTicket(ctx, ticket)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrSecretMismatch):
		return nil, c.fail(ctx, "", fmt.Errorf("%w: %w", ErrInvalidTicket, err))
	case err != nil:
		return nil, c.fail(ctx, "", err)
	case payload == nil || payload.Identity == nil:
		return nil, c.fail(ctx, "", fmt.Errorf("%w: ticket carries no identity", ErrInvalidTicket))
	}

	provider := payload.Identity.Provider
	tok, data, err := c.issuer.IssueRoot(ctx, payload.Identity, ip)
	if err != nil {
		return nil, c.fail(ctx, provider, err)
	}

	c.transition(ctx, provider, StateTokenIssued, "user", data.Username, "token", data.Key)
	c.metrics.Login(provider, "success")
	return &Result{Token: tok, Data: data, ReturnURL: payload.ReturnURL}, nil
}

func (c *Controller) transition(ctx context.Context, provider string, to State, attrs ...any) {
	c.logger.DebugContext(ctx, "login state changed",
		append([]any{"provider", provider, "state", to.String()}, attrs...)...)
}

func (c *Controller) fail(ctx context.Context, provider string, err error) error {
	c.transition(ctx, provider, StateFailed, "error", err)
	if provider == "" {
		provider = "unknown"
	}
	c.metrics.Login(provider, failureResult(err))
	return err
}

func failureResult(err error) string {
	switch {
	case errors.Is(err, upstream.ErrStateMismatch):
		return "state_mismatch"
	case errors.Is(err, upstream.ErrDenied):
		return "denied"
	case errors.Is(err, upstream.ErrUnreachable), errors.Is(err, storage.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidTicket):
		return "invalid_ticket"
	}
	return "error"
}
