// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/tokengate/pkg/audit"
	"github.com/stacklok/tokengate/pkg/authz"
	"github.com/stacklok/tokengate/pkg/issuer"
	"github.com/stacklok/tokengate/pkg/token"
)

// maxBodySize bounds token API request bodies.
const maxBodySize = 64 << 10

// createTokenRequest is the body of POST /users/{username}/tokens.
type createTokenRequest struct {
	Name    string     `json:"token_name"`
	Scopes  []string   `json:"scopes"`
	Expires *time.Time `json:"expires"`
	// Type is user unless an administrator asks for a service token.
	Type token.Type `json:"token_type,omitempty"`
}

// createTokenResponse is the response to a token creation.
type createTokenResponse struct {
	Token string `json:"token"`
}

// modifyTokenRequest is the body of PATCH /users/{username}/tokens/{key}.
// Omitted fields are unchanged. An explicit null expiry removes the expiry.
type modifyTokenRequest struct {
	Name    *string         `json:"token_name"`
	Scopes  []string        `json:"scopes"`
	Expires json.RawMessage `json:"expires"`
}

// denyAPI renders authentication failures of the token API.
func (h *Handler) denyAPI(w http.ResponseWriter, r *http.Request, d authz.Decision) {
	switch d.Outcome {
	case authz.Unavailable:
		writeError(w, r, h.logger, d.Err)
	case authz.DenyInsufficientScope:
		writeJSON(w, http.StatusForbidden, errorResponse{Detail: []errorDetail{{
			Msg: d.Reason, Type: "permission_denied",
		}}})
	default:
		w.Header().Set("WWW-Authenticate", h.challenge("invalid_token", d.Reason, nil))
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: []errorDetail{{
			Msg: d.Reason, Type: "invalid_token",
		}}})
	}
}

// authToken returns the token authenticated by the API middleware.
func authToken(r *http.Request) (*token.Data, error) {
	d, ok := authz.TokenFromContext(r.Context())
	if !ok {
		return nil, issuer.ErrPermissionDenied
	}
	return d, nil
}

func (*Handler) tokenInfo(w http.ResponseWriter, r *http.Request) error {
	auth, err := authToken(r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, auth.Info())
	return nil
}

func (h *Handler) listTokens(w http.ResponseWriter, r *http.Request) error {
	auth, err := authToken(r)
	if err != nil {
		return err
	}
	infos, err := h.issuer.ListTokens(r.Context(), auth, chi.URLParam(r, "username"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, infos)
	return nil
}

func (h *Handler) createToken(w http.ResponseWriter, r *http.Request) error {
	auth, err := authToken(r)
	if err != nil {
		return err
	}
	var req createTokenRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	username := chi.URLParam(r, "username")
	tok, data, err := h.issuer.CreateUserToken(r.Context(), auth, issuer.UserTokenRequest{
		Username: username,
		Name:     req.Name,
		Scopes:   req.Scopes,
		Expires:  req.Expires,
		Type:     req.Type,
	}, clientIP(r))
	if err != nil {
		return err
	}

	h.logger.InfoContext(r.Context(), "Created new user token",
		"user", auth.Username,
		"token", auth.Key,
		"new_token", data.Key,
		"token_name", data.Name,
		"token_scope", data.Scopes,
	)
	w.Header().Set("Location", tokenPath(username, data.Key))
	writeJSON(w, http.StatusCreated, createTokenResponse{Token: tok.String()})
	return nil
}

func (h *Handler) getToken(w http.ResponseWriter, r *http.Request) error {
	auth, err := authToken(r)
	if err != nil {
		return err
	}
	d, err := h.issuer.GetToken(r.Context(), auth, chi.URLParam(r, "username"), chi.URLParam(r, "key"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, d.Info())
	return nil
}

func (h *Handler) modifyToken(w http.ResponseWriter, r *http.Request) error {
	auth, err := authToken(r)
	if err != nil {
		return err
	}
	var req modifyTokenRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	changes := issuer.TokenChanges{Name: req.Name, Scopes: req.Scopes}
	if req.Expires != nil {
		if err := json.Unmarshal(req.Expires, &changes.Expires); err != nil {
			return invalidParam("invalid_expires", err, "body", "expires")
		}
		changes.SetExpires = true
	}

	d, err := h.issuer.ModifyToken(r.Context(), auth,
		chi.URLParam(r, "username"), chi.URLParam(r, "key"), changes, clientIP(r))
	if err != nil {
		return err
	}
	h.logger.InfoContext(r.Context(), "Modified token",
		"user", auth.Username,
		"key", d.Key,
		"token_name", d.Name,
		"token_scope", d.Scopes,
	)
	writeJSON(w, http.StatusOK, d.Info())
	return nil
}

func (h *Handler) revokeToken(w http.ResponseWriter, r *http.Request) error {
	auth, err := authToken(r)
	if err != nil {
		return err
	}
	revoked, err := h.issuer.Revoke(r.Context(), auth,
		chi.URLParam(r, "username"), chi.URLParam(r, "key"), clientIP(r))
	if err != nil {
		return err
	}
	h.logger.InfoContext(r.Context(), "Deleted token",
		"user", auth.Username, "key", chi.URLParam(r, "key"), "revoked", len(revoked))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) tokenHistory(w http.ResponseWriter, r *http.Request) error {
	auth, err := authToken(r)
	if err != nil {
		return err
	}
	filter, err := parseHistoryFilter(r.URL.Query())
	if err != nil {
		return err
	}
	page, err := h.issuer.History(r.Context(), auth, chi.URLParam(r, "username"), filter)
	if err != nil {
		return err
	}
	writePage(w, r, page)
	return nil
}

// allTokenHistory serves the history of every user to administrators.
func (h *Handler) allTokenHistory(w http.ResponseWriter, r *http.Request) error {
	auth, err := authToken(r)
	if err != nil {
		return err
	}
	q := r.URL.Query()
	filter, err := parseHistoryFilter(q)
	if err != nil {
		return err
	}
	filter.Username = q.Get("username")
	page, err := h.issuer.AllHistory(r.Context(), auth, filter)
	if err != nil {
		return err
	}
	writePage(w, r, page)
	return nil
}

// writePage writes the events of page and links the next page, if any.
func writePage(w http.ResponseWriter, r *http.Request, page *audit.Page) {
	if page.Next != nil {
		q := r.URL.Query()
		q.Set("cursor", page.Next.String())
		next := url.URL{Path: r.URL.Path, RawQuery: q.Encode()}
		w.Header().Set("Link", fmt.Sprintf("<%s>; rel=\"next\"", next.String()))
	}
	writeJSON(w, http.StatusOK, page.Events)
}

func parseHistoryFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		Key:       q.Get("key"),
		Actor:     q.Get("actor"),
		TokenType: token.Type(q.Get("token_type")),
	}
	if f.TokenType != "" && !f.TokenType.Valid() {
		return f, invalidParam("invalid_token_type",
			fmt.Errorf("unknown token type %q", f.TokenType), "query", "token_type")
	}
	if v := q.Get("ip_or_cidr"); v != "" {
		prefix, err := audit.ParseIPFilter(v)
		if err != nil {
			return f, invalidParam("invalid_ip_or_cidr", err, "query", "ip_or_cidr")
		}
		f.IP = prefix
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, invalidParam("invalid_"+name, err, "query", name)
		}
		*dst = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, invalidParam("invalid_limit",
				fmt.Errorf("limit must be a positive integer, got %q", v), "query", "limit")
		}
		f.Limit = n
	}
	if v := q.Get("cursor"); v != "" {
		c, err := audit.ParseCursor(v)
		if err != nil {
			return f, invalidParam("invalid_cursor", err, "query", "cursor")
		}
		f.Cursor = c
	}
	return f, nil
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidParam("invalid_body", fmt.Errorf("invalid request body: %w", err), "body")
	}
	return nil
}

func tokenPath(username, key string) string {
	return APIPrefix + "/users/" + url.PathEscape(username) + "/tokens/" + url.PathEscape(key)
}
