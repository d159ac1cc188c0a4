// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP endpoints of the gateway.
//
// This package implements:
//   - the forward-auth endpoint (/auth) consulted by the ingress
//   - the browser login flow (/login, /login/callback, /login/ticket, /logout)
//   - the token management API under /auth/api/v1
//
// The Handler struct coordinates all handlers and provides route
// registration methods for integrating with a chi router.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/tokengate/pkg/authz"
	"github.com/stacklok/tokengate/pkg/issuer"
	"github.com/stacklok/tokengate/pkg/login"
)

// Default values for Config.
const (
	DefaultCookieName = "tokengate"
	DefaultRealm      = "tokengate"
	// retryAfter is sent with 503 responses, in seconds.
	retryAfter = "5"
)

// APIPrefix is the base path of the token management API.
const APIPrefix = "/auth/api/v1"

// Config configures the handlers.
type Config struct {
	// Realm is sent in WWW-Authenticate challenges.
	Realm string
	// CookieName names the session cookie.
	CookieName string
	// AfterLogoutURL is where /logout sends the browser when no rd
	// parameter is given.
	AfterLogoutURL string
	// InsecureCookie drops the Secure attribute, for local development
	// over plain HTTP.
	InsecureCookie bool
}

func (c *Config) applyDefaults() {
	if c.Realm == "" {
		c.Realm = DefaultRealm
	}
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
}

// Handler provides the HTTP handlers of the gateway.
type Handler struct {
	config Config
	engine *authz.Engine
	login  *login.Controller
	issuer *issuer.Issuer
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(
	cfg Config,
	engine *authz.Engine,
	controller *login.Controller,
	iss *issuer.Issuer,
	logger *slog.Logger,
) *Handler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config: cfg,
		engine: engine,
		login:  controller,
		issuer: iss,
		logger: logger,
		now:    time.Now,
	}
}

// Routes returns a router with all endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.AuthRoutes(r)
	h.LoginRoutes(r)
	r.Route(APIPrefix, h.APIRoutes)
	return r
}

// AuthRoutes registers the forward-auth endpoint.
func (h *Handler) AuthRoutes(r chi.Router) {
	r.Get("/auth", h.AuthHandler)
}

// LoginRoutes registers the browser login endpoints.
func (h *Handler) LoginRoutes(r chi.Router) {
	r.Get("/login", ErrorHandler(h.logger, h.LoginHandler))
	r.Get("/login/callback", ErrorHandler(h.logger, h.CallbackHandler))
	r.Get(login.TicketPath, ErrorHandler(h.logger, h.TicketHandler))
	r.Get("/logout", ErrorHandler(h.logger, h.LogoutHandler))
}

// APIRoutes registers the token management API. Every route requires a
// live token.
func (h *Handler) APIRoutes(r chi.Router) {
	r.Use(authz.Middleware(h.engine, h.config.CookieName, h.denyAPI))
	r.Get("/token-info", ErrorHandler(h.logger, h.tokenInfo))
	r.Get("/history/token-changes", ErrorHandler(h.logger, h.allTokenHistory))
	r.Route("/users/{username}", func(r chi.Router) {
		r.Get("/tokens", ErrorHandler(h.logger, h.listTokens))
		r.Post("/tokens", ErrorHandler(h.logger, h.createToken))
		r.Get("/tokens/{key}", ErrorHandler(h.logger, h.getToken))
		r.Patch("/tokens/{key}", ErrorHandler(h.logger, h.modifyToken))
		r.Delete("/tokens/{key}", ErrorHandler(h.logger, h.revokeToken))
		r.Get("/token-change-history", ErrorHandler(h.logger, h.tokenHistory))
	})
}
