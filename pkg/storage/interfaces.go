// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence interfaces for tokens, login
// tickets and login state, and the errors they return.
package storage

import (
	"context"
	"iter"
	"time"

	"github.com/stacklok/tokengate/pkg/token"
)

//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks -source=interfaces.go TokenStore,TicketStore,StateStore

// TokenStore persists token records with their expiry and maintains the
// subject and parent indices.
type TokenStore interface {
	// CreateToken stores a new record. It fails with ErrAlreadyExists when
	// the key is taken, ErrDuplicateName when a named token clashes, and
	// ErrParentRevoked when the parent is gone.
	CreateToken(ctx context.Context, data *token.Data) error
	// GetToken returns the record for key. Expired records, and records
	// with a missing ancestor, produce ErrNotFound.
	GetToken(ctx context.Context, key string) (*token.Data, error)
	// RevokeToken deletes key and all of its descendants and returns the
	// deleted records.
	RevokeToken(ctx context.Context, key string) ([]*token.Data, error)
	// ListTokens iterates the live tokens of username.
	ListTokens(ctx context.Context, username string) iter.Seq2[*token.Data, error]
	// Children returns the keys of the direct children of key.
	Children(ctx context.Context, key string) ([]string, error)
	// FindChild returns the first live child of parent accepted by match,
	// or ErrNotFound.
	FindChild(ctx context.Context, parent string, match func(*token.Data) bool) (*token.Data, error)
	// UpdateLastUsed records when the token was last presented.
	UpdateLastUsed(ctx context.Context, key string, at time.Time) error
	// UpdateToken applies update to a token and returns the new record. A
	// name taken by another live token of the same user produces
	// ErrDuplicateName.
	UpdateToken(ctx context.Context, key string, update TokenUpdate) (*token.Data, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close() error
}

// TicketStore persists single-use login tickets.
type TicketStore interface {
	// CreateTicket stores payload and returns the ticket to hand out.
	CreateTicket(ctx context.Context, payload *TicketPayload) (token.Ticket, error)
	// RedeemTicket atomically consumes the ticket. It returns ErrNotFound
	// for absent, expired or already redeemed tickets and ErrSecretMismatch
	// for a wrong secret.
	RedeemTicket(ctx context.Context, ticket token.Ticket) (*TicketPayload, error)
}

// StateStore persists the state of logins waiting for a provider callback.
type StateStore interface {
	// SaveState stores state for DefaultLoginStateTTL.
	SaveState(ctx context.Context, state string, login *LoginState) error
	// ConsumeState atomically loads and deletes state. Missing or expired
	// state produces ErrNotFound.
	ConsumeState(ctx context.Context, state string) (*LoginState, error)
}
