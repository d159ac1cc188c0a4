// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/stacklok/tokengate/pkg/authz"
	"github.com/stacklok/tokengate/pkg/issuer"
	"github.com/stacklok/tokengate/pkg/token"
)

// Headers returned to the ingress on an allowed request.
const (
	HeaderUser   = "X-Auth-Request-User"
	HeaderEmail  = "X-Auth-Request-Email"
	HeaderName   = "X-Auth-Request-Name"
	HeaderUID    = "X-Auth-Request-Uid"
	HeaderGroups = "X-Auth-Request-Groups"
	HeaderScopes = "X-Auth-Request-Token-Scopes"
	// HeaderToken carries a delegated notebook or internal token.
	HeaderToken = "X-Auth-Request-Token"
	// HeaderScope lets the ingress pass required scopes without a query
	// string.
	HeaderScope = "X-Auth-Request-Scope"
)

// authParams are the parsed query parameters of /auth.
type authParams struct {
	scopes        []string
	satisfy       token.Satisfy
	notebook      bool
	delegateTo    string
	delegateScope []string
}

func parseAuthParams(r *http.Request) (*authParams, error) {
	q := r.URL.Query()
	p := &authParams{}

	for _, s := range append(q["scope"], splitList(r.Header.Get(HeaderScope))...) {
		if err := token.ValidateScope(s); err != nil {
			return nil, invalidParam("invalid_scope", err, "query", "scope")
		}
		p.scopes = append(p.scopes, s)
	}
	if len(p.scopes) == 0 {
		return nil, invalidParam("missing_scope", errors.New("scope parameter required"), "query", "scope")
	}

	satisfy, err := token.ParseSatisfy(q.Get("satisfy"))
	if err != nil {
		return nil, invalidParam("invalid_satisfy", err, "query", "satisfy")
	}
	p.satisfy = satisfy

	if v := q.Get("notebook"); v != "" {
		if p.notebook, err = strconv.ParseBool(v); err != nil {
			return nil, invalidParam("invalid_notebook", err, "query", "notebook")
		}
	}
	p.delegateTo = q.Get("delegate_to")
	p.delegateScope = splitList(q.Get("delegate_scope"))
	if p.notebook && p.delegateTo != "" {
		return nil, invalidParam("invalid_delegate_to",
			errors.New("delegate_to cannot be set for notebook tokens"), "query", "delegate_to")
	}
	if p.delegateTo == "" && len(p.delegateScope) > 0 {
		return nil, invalidParam("invalid_delegate_scope",
			errors.New("delegate_scope requires delegate_to"), "query", "delegate_scope")
	}
	return p, nil
}

// AuthHandler handles GET /auth, the forward-auth subrequest made by the
// ingress for every protected request.
func (h *Handler) AuthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params, err := parseAuthParams(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	cred, source := authz.ExtractCredential(r, h.config.CookieName)
	d := h.engine.Authorize(ctx, authz.Request{
		Credential: cred,
		Source:     source,
		Required:   params.scopes,
		Satisfy:    params.satisfy,
	})

	logger := h.logger.With(
		"auth_uri", originalURI(r),
		"required_scope", strings.Join(params.scopes, " "),
		"satisfy", string(params.satisfy),
		"remote", clientIP(r),
	)
	if source != authz.SourceNone {
		logger = logger.With("token_source", string(source))
	}
	if d.Token != nil {
		logger = logger.With(
			"token", d.Token.Key,
			"user", d.Token.Username,
			"scope", strings.Join(d.Token.Scopes, " "),
		)
	}

	switch d.Outcome {
	case authz.Allow:
		h.allow(ctx, w, r, logger, d.Token, params)
	case authz.DenyUnauthenticated, authz.DenyMalformed:
		h.unauthenticated(ctx, w, r, logger, d, cred != "")
	case authz.DenyInsufficientScope:
		logger.WarnContext(ctx, "Permission denied", "error", d.Reason)
		w.Header().Set("WWW-Authenticate", h.challenge("insufficient_scope", d.Reason, params.scopes))
		writeJSON(w, http.StatusForbidden, errorResponse{Detail: []errorDetail{{
			Msg: d.Reason, Type: "insufficient_scope",
		}}})
	default:
		logger.ErrorContext(ctx, "Token store unavailable", "error", d.Err)
		w.Header().Set("Retry-After", retryAfter)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: []errorDetail{{
			Msg: d.Reason, Type: "unavailable",
		}}})
	}
}

func (h *Handler) allow(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	logger *slog.Logger,
	data *token.Data,
	params *authParams,
) {
	ip := clientIP(r)
	var delegated token.Token
	var err error
	switch {
	case params.notebook:
		delegated, err = h.issuer.NotebookToken(ctx, data, ip)
	case params.delegateTo != "":
		delegated, err = h.issuer.InternalToken(ctx, data, params.delegateTo, params.delegateScope, ip)
	}
	if errors.Is(err, issuer.ErrEscalation) {
		logger.WarnContext(ctx, "Permission denied", "error", err)
		writeJSON(w, http.StatusForbidden, errorResponse{Detail: []errorDetail{{
			Msg: err.Error(), Type: "insufficient_scope",
		}}})
		return
	}
	if err != nil {
		writeError(w, r, logger, fmt.Errorf("failed to issue delegated token: %w", err))
		return
	}

	hdr := w.Header()
	hdr.Set(HeaderUser, data.Username)
	hdr.Set(HeaderScopes, strings.Join(data.Scopes, " "))
	if data.Email != "" {
		hdr.Set(HeaderEmail, data.Email)
	}
	if data.DisplayName != "" {
		hdr.Set(HeaderName, data.DisplayName)
	}
	if data.UID != 0 {
		hdr.Set(HeaderUID, strconv.Itoa(data.UID))
	}
	if len(data.Groups) > 0 {
		hdr.Set(HeaderGroups, strings.Join(data.Groups, ","))
	}
	if delegated.Key != "" {
		hdr.Set(HeaderToken, delegated.String())
	}

	logger.InfoContext(ctx, "Token authorized")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) unauthenticated(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	logger *slog.Logger,
	d authz.Decision,
	presented bool,
) {
	if presented {
		logger.WarnContext(ctx, "Invalid token", "error", d.Reason)
	} else {
		logger.InfoContext(ctx, "No token found, returning unauthorized")
	}

	if target := r.Header.Get("X-Original-URL"); target != "" && isInteractive(r) {
		http.Redirect(w, r, "/login?"+url.Values{"rd": {target}}.Encode(), http.StatusFound)
		return
	}

	if presented {
		w.Header().Set("WWW-Authenticate", h.challenge("invalid_token", d.Reason, nil))
	} else {
		w.Header().Set("WWW-Authenticate", h.challenge("", "", nil))
	}
	writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: []errorDetail{{
		Msg: d.Reason, Type: "invalid_token",
	}}})
}

// challenge builds an RFC 6750 WWW-Authenticate value.
func (h *Handler) challenge(code, description string, scopes []string) string {
	parts := []string{fmt.Sprintf("Bearer realm=%q", h.config.Realm)}
	if code != "" {
		parts = append(parts, fmt.Sprintf("error=%q", code))
	}
	if description != "" {
		parts = append(parts, fmt.Sprintf("error_description=%q", description))
	}
	if len(scopes) > 0 {
		parts = append(parts, fmt.Sprintf("scope=%q", strings.Join(scopes, " ")))
	}
	return strings.Join(parts, ", ")
}

func isInteractive(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// originalURI returns the URI the ingress is asking about.
func originalURI(r *http.Request) string {
	if v := r.Header.Get("X-Original-URI"); v != "" {
		return v
	}
	if v := r.Header.Get("X-Original-URL"); v != "" {
		return v
	}
	return "NONE"
}

// clientIP returns the first address of X-Forwarded-For, or the peer
// address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// splitList splits a comma or space separated list.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
}
