// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server runs the tokengate HTTP listeners: the public listener
// serving forward-auth, login and the token API, and an optional metrics
// listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/tokengate/pkg/metrics"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
	healthTimeout     = 2 * time.Second
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the listen addresses.
type Config struct {
	Listen string
	// MetricsListen is optional. Empty disables the metrics listener.
	MetricsListen string
}

// Server serves the gateway routes and metrics.
type Server struct {
	config  Config
	routes  http.Handler
	health  Pinger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Server. routes is mounted at the root; health is pinged by
// /health.
func New(cfg Config, routes http.Handler, health Pinger, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  cfg,
		routes:  routes,
		health:  health,
		metrics: m,
		logger:  logger,
	}
}

// Handler returns the public router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		requestID,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
	)
	r.Get("/health", s.healthHandler)
	r.Mount("/", s.routes)
	return r
}

// Run listens on the configured addresses and serves until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	var metricsLn net.Listener
	if s.config.MetricsListen != "" {
		metricsLn, err = net.Listen("tcp", s.config.MetricsListen)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.config.MetricsListen, err)
		}
	}
	return s.Serve(ctx, ln, metricsLn)
}

// Serve serves on the given listeners until ctx is cancelled, then shuts
// both servers down gracefully. metricsLn may be nil.
func (s *Server) Serve(ctx context.Context, ln, metricsLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.serve(ctx, "HTTP", ln, s.Handler())
	})
	if metricsLn != nil {
		g.Go(func() error {
			return s.serve(ctx, "metrics", metricsLn, s.metrics.Handler())
		})
	}
	return g.Wait()
}

func (s *Server) serve(ctx context.Context, name string, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "server", name, "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server stopped with error: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s server shutdown failed: %w", name, err)
	}
	s.logger.Info("server stopped", "server", name)
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestID assigns a UUID request ID when the client did not send one and
// echoes it in the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(middleware.RequestIDHeader, id)
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
