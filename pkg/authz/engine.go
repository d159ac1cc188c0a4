// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authz answers the forward-auth question: does a presented
// credential name a live token carrying the required scopes.
//
// The engine fails closed. A store that cannot be reached produces
// [Unavailable], never an allow, and expired, revoked and unknown tokens
// are indistinguishable to the caller.
package authz

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stacklok/tokengate/pkg/metrics"
	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
)

// Outcome is the result class of an authorization decision.
type Outcome int

const (
	// Allow means the token is live and carries the required scopes.
	Allow Outcome = iota
	// DenyUnauthenticated means no usable token was presented.
	DenyUnauthenticated
	// DenyMalformed means the credential could not be parsed as a token.
	DenyMalformed
	// DenyInsufficientScope means the token lacks a required scope.
	DenyInsufficientScope
	// Unavailable means the token store could not answer.
	Unavailable
)

// String returns the label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "unauthenticated"
	case DenyMalformed:
		return "malformed"
	case DenyInsufficientScope:
		return "insufficient_scope"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Denial reasons. Unknown, expired, revoked and mismatched tokens share
// ReasonInvalidToken.
const (
	ReasonNoCredential      = "no token provided"
	ReasonInvalidToken      = "invalid or expired token"
	ReasonInsufficientScope = "token missing required scope"
	ReasonUnavailable       = "token store unavailable"
)

// Request is a single authorization question.
type Request struct {
	// Credential is the raw token string as presented.
	Credential string
	// Source records where the credential was found.
	Source Source
	// Required lists the scopes the request needs.
	Required []string
	// Satisfy selects AND (default) or OR semantics for Required.
	Satisfy token.Satisfy
}

// Decision is the answer to a Request.
type Decision struct {
	Outcome Outcome
	// Reason is a short message safe to return to the client.
	Reason string
	// Token is set when the credential named a live token, including on
	// an insufficient scope denial.
	Token *token.Data
	// Err carries the underlying failure for logging.
	Err error
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// Engine evaluates authorization requests against the token store.
type Engine struct {
	store    storage.TokenStore
	hasher   *token.Hasher
	lastUsed *LastUsedUpdater
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLastUsedUpdater records the last use of allowed tokens on u.
func WithLastUsedUpdater(u *LastUsedUpdater) Option {
	return func(e *Engine) {
		e.lastUsed = u
	}
}

// WithMetrics counts decisions by outcome.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine.
func NewEngine(store storage.TokenStore, hasher *token.Hasher, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		hasher: hasher,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize decides req. It never blocks on anything but the token store
// lookup.
func (e *Engine) Authorize(ctx context.Context, req Request) Decision {
	d := e.decide(ctx, req)
	e.metrics.Decision(d.Outcome.String())
	if d.Outcome == Allow {
		e.lastUsed.Enqueue(d.Token.Key, e.now())
	}
	return d
}

// Authenticate resolves a credential to its live token without any scope
// requirement.
func (e *Engine) Authenticate(ctx context.Context, credential string, source Source) Decision {
	return e.Authorize(ctx, Request{Credential: credential, Source: source})
}

func (e *Engine) decide(ctx context.Context, req Request) Decision {
	if req.Credential == "" {
		return Decision{Outcome: DenyUnauthenticated, Reason: ReasonNoCredential}
	}
	tok, err := token.Parse(req.Credential)
	if err != nil {
		return Decision{Outcome: DenyMalformed, Reason: err.Error(), Err: err}
	}

	data, err := e.store.GetToken(ctx, tok.Key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return Decision{Outcome: DenyUnauthenticated, Reason: ReasonInvalidToken, Err: err}
	case err != nil:
		return Decision{Outcome: Unavailable, Reason: ReasonUnavailable, Err: err}
	}
	if data.Expired(e.now()) || !e.hasher.Verify(tok.Secret, data.Fingerprint) {
		return Decision{Outcome: DenyUnauthenticated, Reason: ReasonInvalidToken}
	}

	satisfy := req.Satisfy
	if satisfy == "" {
		satisfy = token.SatisfyAll
	}
	if !data.HasScopes(req.Required, satisfy) {
		return Decision{Outcome: DenyInsufficientScope, Reason: ReasonInsufficientScope, Token: data}
	}
	return Decision{Outcome: Allow, Token: data}
}
