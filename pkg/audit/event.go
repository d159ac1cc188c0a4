// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/tokengate/pkg/token"
)

// Action is the lifecycle transition recorded by an Event.
type Action string

const (
	// ActionCreate records token issuance.
	ActionCreate Action = "create"
	// ActionEdit records a change to a token's name, scopes or expiry.
	ActionEdit Action = "edit"
	// ActionRevoke records an explicit or cascaded revocation.
	ActionRevoke Action = "revoke"
	// ActionExpire records a token that lapsed without being revoked.
	ActionExpire Action = "expire"
)

// ParseAction converts a string into an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreate, ActionEdit, ActionRevoke, ActionExpire:
		return a, nil
	}
	return "", fmt.Errorf("unknown audit action %q", s)
}

// Event is one entry in the token change history.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Key        string     `json:"token"`
	Username   string     `json:"username"`
	Type       token.Type `json:"token_type"`
	Name       string     `json:"token_name,omitempty"`
	Parent     string     `json:"parent,omitempty"`
	Service    string     `json:"service,omitempty"`
	Scopes     []string   `json:"scopes"`
	Expires    *time.Time `json:"expires,omitempty"`
	OldName    string     `json:"old_token_name,omitempty"`
	OldScopes  []string   `json:"old_scopes,omitempty"`
	OldExpires *time.Time `json:"old_expires,omitempty"`
	Actor      string     `json:"actor"`
	Action     Action     `json:"action"`
	IPAddress  string     `json:"ip_address,omitempty"`
	Time       time.Time  `json:"event_time"`
}

// NewEvent builds an event describing d.
func NewEvent(action Action, d *token.Data, actor, ip string) Event {
	return Event{
		ID:        uuid.New(),
		Key:       d.Key,
		Username:  d.Username,
		Type:      d.Type,
		Name:      d.Name,
		Parent:    d.Parent,
		Service:   d.Service,
		Scopes:    slices.Clone(d.Scopes),
		Expires:   d.Expires,
		Actor:     actor,
		Action:    action,
		IPAddress: ip,
		Time:      time.Now().UTC(),
	}
}

// LogTo writes the event to logger.
func (e *Event) LogTo(ctx context.Context, logger *slog.Logger) {
	attrs := []slog.Attr{
		slog.String("id", e.ID.String()),
		slog.String("action", string(e.Action)),
		slog.String("token", e.Key),
		slog.String("username", e.Username),
		slog.String("token_type", string(e.Type)),
		slog.String("actor", e.Actor),
		slog.Any("scopes", e.Scopes),
	}
	if e.Name != "" {
		attrs = append(attrs, slog.String("token_name", e.Name))
	}
	if e.Parent != "" {
		attrs = append(attrs, slog.String("parent", e.Parent))
	}
	if e.Service != "" {
		attrs = append(attrs, slog.String("service", e.Service))
	}
	if e.Expires != nil {
		attrs = append(attrs, slog.Time("expires", *e.Expires))
	}
	if e.OldName != "" {
		attrs = append(attrs, slog.String("old_token_name", e.OldName))
	}
	if e.OldScopes != nil {
		attrs = append(attrs, slog.Any("old_scopes", e.OldScopes))
	}
	if e.OldExpires != nil {
		attrs = append(attrs, slog.Time("old_expires", *e.OldExpires))
	}
	if e.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", e.IPAddress))
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "token "+string(e.Action), slog.Attr{
		Key:   "audit",
		Value: slog.GroupValue(attrs...),
	})
}
