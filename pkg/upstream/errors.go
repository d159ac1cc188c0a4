// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/oauth2"
)

// classifyExchangeError maps an error from a token exchange or API call to
// ErrUnreachable when the provider could not be reached, and to ErrDenied
// otherwise.
func classifyExchangeError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %s: %w", ErrUnreachable, op, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrDenied, op, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDenied, op, err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// statusError maps a non-success HTTP status from a provider API.
func statusError(op string, status int) error {
	switch {
	case status == 401 || status == 403 || status == 404:
		return fmt.Errorf("%w: %s returned status %d", ErrDenied, op, status)
	case status == 429 || status >= 500:
		return fmt.Errorf("%w: %s returned status %d", ErrUnreachable, op, status)
	}
	return fmt.Errorf("%w: %s returned unexpected status %d", ErrDenied, op, status)
}
