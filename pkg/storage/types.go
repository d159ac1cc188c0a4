// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"time"

	"github.com/stacklok/tokengate/pkg/upstream"
)

const (
	// DefaultTicketTTL bounds how long a login ticket can be redeemed.
	DefaultTicketTTL = time.Minute

	// DefaultLoginStateTTL bounds how long a provider callback is accepted
	// after the login began.
	DefaultLoginStateTTL = 10 * time.Minute

	// DefaultOperationTimeout bounds every backing store call.
	DefaultOperationTimeout = 2 * time.Second
)

// TicketPayload is the state carried by a login ticket from the provider
// callback to session issuance.
type TicketPayload struct {
	Identity  *upstream.Identity `json:"identity"`
	ReturnURL string             `json:"return_url"`
	CreatedAt time.Time          `json:"created_at"`
}

// TokenUpdate lists the changes applied by TokenStore.UpdateToken. Nil
// fields are left unchanged.
type TokenUpdate struct {
	Name   *string
	Scopes []string
	// Expires is applied when SetExpires is true. Nil means never.
	Expires    *time.Time
	SetExpires bool
}

// LoginState binds a provider callback to the login that started it.
type LoginState struct {
	Provider     string    `json:"provider"`
	ReturnURL    string    `json:"return_url"`
	CodeVerifier string    `json:"code_verifier"`
	Nonce        string    `json:"nonce,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
