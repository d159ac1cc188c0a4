// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

var (
	// ErrNotFound is returned when a record does not exist. Absent, expired
	// and revoked records all produce this error.
	ErrNotFound = httperr.WithCode(
		errors.New("resource not found"),
		http.StatusNotFound,
	)

	// ErrAlreadyExists is returned when a record already exists.
	ErrAlreadyExists = httperr.WithCode(
		errors.New("resource already exists"),
		http.StatusConflict,
	)

	// ErrDuplicateName is returned when a user already has a token with the
	// requested name.
	ErrDuplicateName = httperr.WithCode(
		errors.New("token name already in use"),
		http.StatusConflict,
	)

	// ErrParentRevoked is returned when a child token is created under a
	// parent that no longer exists.
	ErrParentRevoked = httperr.WithCode(
		errors.New("parent token no longer exists"),
		http.StatusUnauthorized,
	)

	// ErrSecretMismatch is returned when a ticket is presented with the
	// wrong secret. The ticket is consumed regardless.
	ErrSecretMismatch = httperr.WithCode(
		errors.New("ticket secret mismatch"),
		http.StatusForbidden,
	)

	// ErrUnavailable is returned when the backing store could not be
	// reached or did not answer in time. Callers must treat it as a
	// retryable failure and never as an absent record.
	ErrUnavailable = httperr.WithCode(
		errors.New("token store unavailable"),
		http.StatusServiceUnavailable,
	)
)
