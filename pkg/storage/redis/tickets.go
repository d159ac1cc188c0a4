// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
)

// storedTicket is the Redis representation of a ticket.
type storedTicket struct {
	Fingerprint string                 `json:"fingerprint"`
	Payload     *storage.TicketPayload `json:"payload"`
}

// CreateTicket stores payload under a fresh ticket for DefaultTicketTTL.
func (s *Storage) CreateTicket(ctx context.Context, payload *storage.TicketPayload) (token.Ticket, error) {
	if payload == nil {
		return token.Ticket{}, errors.New("ticket payload is required")
	}
	if payload.CreatedAt.IsZero() {
		payload.CreatedAt = s.now().UTC()
	}
	ticket := token.NewTicket()
	raw, err := json.Marshal(storedTicket{
		Fingerprint: s.hasher.Fingerprint(ticket.Secret),
		Payload:     payload,
	})
	if err != nil {
		return token.Ticket{}, fmt.Errorf("failed to marshal ticket: %w", err)
	}

	ctx, done := s.op(ctx, "create_ticket")
	defer done()

	ok, err := s.client.SetNX(ctx, redisKey(s.keyPrefix, keyTypeTicket, ticket.Key), raw, storage.DefaultTicketTTL).Result()
	if err != nil {
		return token.Ticket{}, unavailable("create ticket", err)
	}
	if !ok {
		return token.Ticket{}, storage.ErrAlreadyExists
	}
	return ticket, nil
}

// RedeemTicket consumes the ticket with GETDEL, so of any number of
// concurrent redemptions at most one can succeed. A wrong secret still
// consumes the ticket.
func (s *Storage) RedeemTicket(ctx context.Context, ticket token.Ticket) (*storage.TicketPayload, error) {
	ctx, done := s.op(ctx, "redeem_ticket")
	defer done()

	raw, err := s.client.GetDel(ctx, redisKey(s.keyPrefix, keyTypeTicket, ticket.Key)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("redeem ticket", err)
	}

	var stored storedTicket
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket: %w", err)
	}
	if !s.hasher.Verify(ticket.Secret, stored.Fingerprint) {
		return nil, storage.ErrSecretMismatch
	}
	if stored.Payload == nil || s.now().Sub(stored.Payload.CreatedAt) > storage.DefaultTicketTTL {
		return nil, storage.ErrNotFound
	}
	return stored.Payload, nil
}

// SaveState stores a pending login for DefaultLoginStateTTL.
func (s *Storage) SaveState(ctx context.Context, state string, login *storage.LoginState) error {
	if state == "" || login == nil {
		return errors.New("state and login are required")
	}
	if login.CreatedAt.IsZero() {
		login.CreatedAt = s.now().UTC()
	}
	raw, err := json.Marshal(login)
	if err != nil {
		return fmt.Errorf("failed to marshal login state: %w", err)
	}

	ctx, done := s.op(ctx, "save_state")
	defer done()

	ok, err := s.client.SetNX(ctx, redisKey(s.keyPrefix, keyTypeState, state), raw, storage.DefaultLoginStateTTL).Result()
	if err != nil {
		return unavailable("save state", err)
	}
	if !ok {
		return storage.ErrAlreadyExists
	}
	return nil
}

// ConsumeState loads and deletes a pending login.
func (s *Storage) ConsumeState(ctx context.Context, state string) (*storage.LoginState, error) {
	ctx, done := s.op(ctx, "consume_state")
	defer done()

	raw, err := s.client.GetDel(ctx, redisKey(s.keyPrefix, keyTypeState, state)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("consume state", err)
	}
	var login storage.LoginState
	if err := json.Unmarshal([]byte(raw), &login); err != nil {
		return nil, fmt.Errorf("failed to unmarshal login state: %w", err)
	}
	if s.now().Sub(login.CreatedAt) > storage.DefaultLoginStateTTL {
		return nil, storage.ErrNotFound
	}
	return &login, nil
}
