// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/stacklok/tokengate/pkg/authz"
	"github.com/stacklok/tokengate/pkg/login"
)

// LoginHandler handles GET /login. It starts a login with the provider
// named by the provider parameter and redirects the browser to it.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	rd := q.Get("rd")
	if rd == "" {
		rd = r.Header.Get("X-Auth-Request-Redirect")
	}
	redirect, err := h.login.Begin(r.Context(), q.Get("provider"), rd)
	if err != nil {
		return asParam(err, "rd")
	}
	http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
	return nil
}

// CallbackHandler handles GET /login/callback, the redirect back from the
// identity provider.
func (h *Handler) CallbackHandler(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	redirect, err := h.login.Complete(r.Context(), login.Callback{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "Authentication failed",
			"remote", clientIP(r), "error", err)
		return err
	}
	http.Redirect(w, r, redirect.URL, http.StatusTemporaryRedirect)
	return nil
}

// TicketHandler handles GET /login/ticket. It redeems the ticket, sets the
// session cookie and sends the browser to the URL the login started from.
func (h *Handler) TicketHandler(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	res, err := h.login.Redeem(ctx, r.URL.Query().Get("ticket"), clientIP(r))
	if err != nil {
		return err
	}

	maxAge := 0
	if res.Data.Expires != nil {
		maxAge = int(res.Data.Expires.Sub(h.now()) / time.Second)
	}
	http.SetCookie(w, h.sessionCookie(res.Token.String(), maxAge))

	h.logger.InfoContext(ctx, "Successfully authenticated user",
		"user", res.Data.Username,
		"token", res.Data.Key,
		"scope", res.Data.Scopes,
		"remote", clientIP(r),
	)
	http.Redirect(w, r, res.ReturnURL, http.StatusTemporaryRedirect)
	return nil
}

// LogoutHandler handles GET /logout. It revokes the session token, clears
// the cookie and redirects to rd or the configured after-logout URL.
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	target := h.config.AfterLogoutURL
	if rd := r.URL.Query().Get("rd"); rd != "" {
		validated, err := h.login.ValidateReturnURL(rd)
		if err != nil {
			return asParam(err, "rd")
		}
		target = validated
	}
	if target == "" {
		target = "/"
	}

	var session string
	if c, err := r.Cookie(h.config.CookieName); err == nil {
		session = c.Value
	}
	d := h.engine.Authenticate(ctx, session, authz.SourceCookie)
	switch d.Outcome {
	case authz.Allow:
		if _, err := h.issuer.RevokeSelf(ctx, d.Token, clientIP(r)); err != nil {
			return err
		}
		h.logger.InfoContext(ctx, "Successful logout",
			"user", d.Token.Username, "token", d.Token.Key, "remote", clientIP(r))
	case authz.Unavailable:
		return d.Err
	default:
		h.logger.InfoContext(ctx, "Logout of already-logged-out session", "remote", clientIP(r))
	}

	http.SetCookie(w, h.sessionCookie("", -1))
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	return nil
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.config.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !h.config.InsecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

// asParam ties a return URL validation failure to the query parameter.
func asParam(err error, name string) error {
	if errorType(err) == "invalid_return_url" {
		return &paramError{loc: []string{"query", name}, typ: "invalid_return_url", err: err}
	}
	return err
}
