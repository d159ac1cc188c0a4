// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"fmt"
	"regexp"
	"time"
)

// Scopes with special meaning to the token management API.
const (
	ScopeAdminToken = "admin:token"
	ScopeUserToken  = "user:token"
)

// MinimumLifetime is the shortest lifetime accepted for a new token.
const MinimumLifetime = 5 * time.Minute

var (
	scopeRegex    = regexp.MustCompile(`^[a-zA-Z0-9:._-]+$`)
	usernameRegex = regexp.MustCompile(`^[a-z_][a-z0-9._-]*$`)
)

// ValidateScope checks the syntax of a single scope.
func ValidateScope(scope string) error {
	if !scopeRegex.MatchString(scope) {
		return fmt.Errorf("invalid scope %q", scope)
	}
	return nil
}

// ValidateUsername checks the syntax of a username.
func ValidateUsername(username string) error {
	if len(username) > 64 || !usernameRegex.MatchString(username) {
		return fmt.Errorf("invalid username %q", username)
	}
	return nil
}

// ValidateExpires checks that a requested expiry leaves at least
// MinimumLifetime. A nil expiry is always valid.
func ValidateExpires(expires *time.Time, now time.Time) error {
	if expires == nil {
		return nil
	}
	if expires.Before(now.Add(MinimumLifetime)) {
		return fmt.Errorf("token must be valid for at least %s", MinimumLifetime)
	}
	return nil
}
