// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/tokengate/pkg/issuer"
	"github.com/stacklok/tokengate/pkg/login"
	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/upstream"
)

// HandlerWithError is an HTTP handler that can return an error.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// ErrorHandler wraps a HandlerWithError and converts returned errors into
// JSON error responses.
//
//   - For 5xx errors: logs full error details, returns a generic message
//   - For 4xx errors: returns the error message to the client
func ErrorHandler(logger *slog.Logger, fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		writeError(w, r, logger, err)
	}
}

// errorDetail is one entry of an error response.
type errorDetail struct {
	Loc  []string `json:"loc,omitempty"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type errorResponse struct {
	Detail []errorDetail `json:"detail"`
}

// paramError is a request validation failure tied to one input.
type paramError struct {
	loc  []string
	typ  string
	code int
	err  error
}

func (e *paramError) Error() string { return e.err.Error() }
func (e *paramError) Unwrap() error { return e.err }

// invalidParam returns a 422 error for the named input.
func invalidParam(typ string, err error, loc ...string) error {
	return &paramError{
		loc:  loc,
		typ:  typ,
		code: http.StatusUnprocessableEntity,
		err:  err,
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := statusFor(err)
	detail := errorDetail{Msg: err.Error(), Type: errorType(err)}
	var pe *paramError
	if errors.As(err, &pe) {
		detail.Loc = pe.loc
		detail.Type = pe.typ
	}

	if code >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "status", code, "error", err)
		detail.Msg = http.StatusText(code)
		if code == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", retryAfter)
		}
	}
	writeJSON(w, code, errorResponse{Detail: []errorDetail{detail}})
}

// statusFor returns the HTTP status for err. Provider errors carry no
// code of their own.
func statusFor(err error) int {
	var pe *paramError
	switch {
	case errors.As(err, &pe) && pe.code != 0:
		return pe.code
	case errors.Is(err, upstream.ErrStateMismatch):
		return http.StatusForbidden
	case errors.Is(err, upstream.ErrDenied):
		return http.StatusForbidden
	case errors.Is(err, upstream.ErrUnreachable):
		return http.StatusBadGateway
	}
	return httperr.Code(err)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, upstream.ErrStateMismatch):
		return "invalid_state"
	case errors.Is(err, upstream.ErrDenied):
		return "authentication_denied"
	case errors.Is(err, upstream.ErrUnreachable):
		return "provider_unavailable"
	case errors.Is(err, login.ErrInvalidReturnURL):
		return "invalid_return_url"
	case errors.Is(err, login.ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, login.ErrInvalidTicket):
		return "invalid_ticket"
	case errors.Is(err, issuer.ErrEscalation), errors.Is(err, issuer.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, issuer.ErrInvalidScopes):
		return "invalid_scopes"
	case errors.Is(err, issuer.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, issuer.ErrHistoryDisabled), errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrDuplicateName):
		return "duplicate_token_name"
	case errors.Is(err, storage.ErrParentRevoked):
		return "invalid_token"
	case errors.Is(err, storage.ErrUnavailable):
		return "unavailable"
	}
	return "internal_error"
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if body == nil {
		return
	}
	// The status line is already written; an encode failure cannot be
	// reported to the client.
	_ = json.NewEncoder(w).Encode(body)
}
