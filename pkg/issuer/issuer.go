// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package issuer creates, edits and revokes tokens. It enforces the
// delegation rules: a child token never carries a scope its parent lacks
// and never outlives its parent.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/tokengate/pkg/audit"
	"github.com/stacklok/tokengate/pkg/metrics"
	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
	"github.com/stacklok/tokengate/pkg/upstream"
)

// Default token lifetimes.
const (
	DefaultSessionLifetime  = 7 * 24 * time.Hour
	DefaultNotebookLifetime = 7 * 24 * time.Hour
	DefaultInternalLifetime = 7 * 24 * time.Hour
)

// createAttempts bounds retries on key collisions.
const createAttempts = 3

var (
	// ErrEscalation is returned when a requested scope is not held by the
	// token it would be derived from. Nothing is stored.
	ErrEscalation = httperr.WithCode(
		errors.New("requested scopes exceed those of the authenticating token"),
		http.StatusForbidden,
	)

	// ErrPermissionDenied is returned when the authenticating token may not
	// act on the requested user or token.
	ErrPermissionDenied = httperr.WithCode(
		errors.New("permission denied"),
		http.StatusForbidden,
	)

	// ErrInvalidRequest is returned for malformed token requests.
	ErrInvalidRequest = httperr.WithCode(
		errors.New("invalid token request"),
		http.StatusUnprocessableEntity,
	)

	// ErrInvalidScopes is returned when a requested scope is not part of
	// the configured vocabulary. Nothing is stored.
	ErrInvalidScopes = httperr.WithCode(
		errors.New("unknown scopes requested"),
		http.StatusUnprocessableEntity,
	)
)

// Config holds lifetimes and the group to scope mapping.
type Config struct {
	SessionLifetime  time.Duration
	NotebookLifetime time.Duration
	InternalLifetime time.Duration
	// UserMaxLifetime caps user token expiry. Zero allows tokens that
	// never expire.
	UserMaxLifetime time.Duration
	// GroupMapping maps a scope to the groups that grant it.
	GroupMapping map[string][]string
	// KnownScopes is the scope vocabulary, mapping each scope to its
	// description. When empty, the scopes of GroupMapping are the
	// vocabulary.
	KnownScopes map[string]string
}

func (c *Config) applyDefaults() {
	if c.SessionLifetime <= 0 {
		c.SessionLifetime = DefaultSessionLifetime
	}
	if c.NotebookLifetime <= 0 {
		c.NotebookLifetime = DefaultNotebookLifetime
	}
	if c.InternalLifetime <= 0 {
		c.InternalLifetime = DefaultInternalLifetime
	}
}

// Issuer issues and manages tokens.
type Issuer struct {
	store    storage.TokenStore
	hasher   *token.Hasher
	recorder audit.Recorder
	history  audit.Store
	config   Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithMetrics counts issued and revoked tokens.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) {
		i.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Issuer) {
		i.logger = l
	}
}

// WithHistory enables the token change history query.
func WithHistory(s audit.Store) Option {
	return func(i *Issuer) {
		i.history = s
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// New creates an Issuer.
func New(store storage.TokenStore, hasher *token.Hasher, recorder audit.Recorder, cfg Config, opts ...Option) *Issuer {
	cfg.applyDefaults()
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	i := &Issuer{
		store:    store,
		hasher:   hasher,
		recorder: recorder,
		config:   cfg,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ScopesForGroups returns the sorted scopes granted by groups.
func (i *Issuer) ScopesForGroups(groups []string) []string {
	var scopes []string
	for scope, granted := range i.config.GroupMapping {
		for _, g := range groups {
			if slices.Contains(granted, g) {
				scopes = append(scopes, scope)
				break
			}
		}
	}
	return token.NormalizeScopes(scopes)
}

// IssueRoot creates a session token for a verified identity.
func (i *Issuer) IssueRoot(ctx context.Context, id *upstream.Identity, ip string) (token.Token, *token.Data, error) {
	if id == nil || id.Username == "" {
		return token.Token{}, nil, fmt.Errorf("%w: identity without username", ErrInvalidRequest)
	}
	if err := token.ValidateUsername(id.Username); err != nil {
		return token.Token{}, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	now := i.now().UTC()
	expires := now.Add(i.config.SessionLifetime)
	data := &token.Data{
		Type:        token.TypeSession,
		Username:    id.Username,
		Scopes:      i.ScopesForGroups(id.Groups),
		Created:     now,
		Expires:     &expires,
		DisplayName: id.Name,
		Email:       id.Email,
		UID:         id.UID,
		Groups:      slices.Clone(id.Groups),
	}
	tok, err := i.create(ctx, data, false)
	if err != nil {
		return token.Token{}, nil, err
	}
	i.record(ctx, audit.NewEvent(audit.ActionCreate, data, id.Username, ip))
	return tok, data, nil
}

// ChildRequest describes a token derived from a parent.
type ChildRequest struct {
	Type    token.Type
	Scopes  []string
	Service string
	// Lifetime of the child. Zero means as long as the parent.
	Lifetime time.Duration
}

// IssueChild creates a token derived from parent. The requested scopes
// must be a subset of the parent's and the expiry never exceeds the
// parent's.
func (i *Issuer) IssueChild(ctx context.Context, parent *token.Data, req ChildRequest, ip string) (token.Token, *token.Data, error) {
	data, err := i.childData(parent, req)
	if err != nil {
		return token.Token{}, nil, err
	}
	tok, err := i.create(ctx, data, false)
	if err != nil {
		return token.Token{}, nil, err
	}
	i.record(ctx, audit.NewEvent(audit.ActionCreate, data, parent.Username, ip))
	return tok, data, nil
}

func (i *Issuer) childData(parent *token.Data, req ChildRequest) (*token.Data, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: parent token required", ErrInvalidRequest)
	}
	switch req.Type {
	case token.TypeUser, token.TypeNotebook, token.TypeInternal, token.TypeService:
	default:
		return nil, fmt.Errorf("%w: cannot derive a %q token", ErrInvalidRequest, req.Type)
	}
	if req.Type == token.TypeInternal && req.Service == "" {
		return nil, fmt.Errorf("%w: internal tokens require a service", ErrInvalidRequest)
	}
	if err := i.checkScopes(req.Scopes); err != nil {
		return nil, err
	}
	scopes := token.NormalizeScopes(req.Scopes)
	if !token.IsSubset(scopes, parent.Scopes) {
		return nil, ErrEscalation
	}

	now := i.now().UTC()
	var expires *time.Time
	if req.Lifetime > 0 {
		e := now.Add(req.Lifetime)
		expires = &e
	}
	expires = token.MinExpiry(parent.Expires, expires)
	if expires != nil && !expires.After(now) {
		return nil, storage.ErrParentRevoked
	}

	return &token.Data{
		Type:        req.Type,
		Username:    parent.Username,
		Scopes:      scopes,
		Created:     now,
		Expires:     expires,
		Parent:      parent.Key,
		Service:     req.Service,
		DisplayName: parent.DisplayName,
		Email:       parent.Email,
		UID:         parent.UID,
		Groups:      slices.Clone(parent.Groups),
	}, nil
}

// checkScopes validates the syntax of scopes and that each one is part of
// the vocabulary.
func (i *Issuer) checkScopes(scopes []string) error {
	var unknown []string
	for _, s := range scopes {
		if err := token.ValidateScope(s); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if !i.knownScope(s) && !slices.Contains(unknown, s) {
			unknown = append(unknown, s)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidScopes, strings.Join(unknown, ", "))
	}
	return nil
}

func (i *Issuer) knownScope(scope string) bool {
	if len(i.config.KnownScopes) > 0 {
		_, ok := i.config.KnownScopes[scope]
		return ok
	}
	_, ok := i.config.GroupMapping[scope]
	return ok
}

// NotebookToken returns a notebook token for parent, reusing an existing
// one when it has at least half of the notebook lifetime left.
func (i *Issuer) NotebookToken(ctx context.Context, parent *token.Data, ip string) (token.Token, error) {
	req := ChildRequest{
		Type:     token.TypeNotebook,
		Scopes:   parent.Scopes,
		Lifetime: i.config.NotebookLifetime,
	}
	return i.reuseOrIssue(ctx, parent, req, ip)
}

// InternalToken returns a token for service acting on behalf of parent,
// reusing an existing one when it has at least half of the internal
// lifetime left.
func (i *Issuer) InternalToken(ctx context.Context, parent *token.Data, service string, scopes []string, ip string) (token.Token, error) {
	req := ChildRequest{
		Type:     token.TypeInternal,
		Scopes:   scopes,
		Service:  service,
		Lifetime: i.config.InternalLifetime,
	}
	return i.reuseOrIssue(ctx, parent, req, ip)
}

func (i *Issuer) reuseOrIssue(ctx context.Context, parent *token.Data, req ChildRequest, ip string) (token.Token, error) {
	data, err := i.childData(parent, req)
	if err != nil {
		return token.Token{}, err
	}

	minRemaining := req.Lifetime / 2
	fresh := func(d *token.Data) bool {
		if d.Expires == nil || d.Lifetime(i.now()) >= minRemaining {
			return true
		}
		// A child capped by its parent's expiry cannot get any longer.
		return parent.Expires != nil && !d.Expires.Before(*parent.Expires)
	}
	existing, err := i.store.FindChild(ctx, parent.Key, func(d *token.Data) bool {
		return d.Type == data.Type &&
			d.Service == data.Service &&
			slices.Equal(d.Scopes, data.Scopes) &&
			fresh(d)
	})
	switch {
	case err == nil:
		return token.Token{Key: existing.Key, Secret: i.hasher.DeriveSecret(existing.Key)}, nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		return token.Token{}, err
	}

	tok, err := i.create(ctx, data, true)
	if err != nil {
		return token.Token{}, err
	}
	i.record(ctx, audit.NewEvent(audit.ActionCreate, data, parent.Username, ip))
	return tok, nil
}

// create assigns a key and fingerprint to data and stores it. Derived
// tokens get a secret reproducible from their key so they can be handed
// out again.
func (i *Issuer) create(ctx context.Context, data *token.Data, derived bool) (token.Token, error) {
	var err error
	for range createAttempts {
		tok := token.New()
		if derived {
			tok.Secret = i.hasher.DeriveSecret(tok.Key)
		}
		data.Key = tok.Key
		data.Fingerprint = i.hasher.Fingerprint(tok.Secret)
		err = i.store.CreateToken(ctx, data)
		if err == nil {
			i.metrics.TokenIssued(string(data.Type))
			return tok, nil
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			break
		}
	}
	return token.Token{}, err
}

// record writes an audit event. Failures are logged; the token operation
// has already taken effect.
func (i *Issuer) record(ctx context.Context, event audit.Event) {
	if err := i.recorder.Record(ctx, event); err != nil {
		i.logger.ErrorContext(ctx, "failed to record token change",
			"action", event.Action, "token", event.Key, "error", err)
	}
}
