// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/tokengate/pkg/token"
)

// Filter selects events from a Store. Zero fields match everything.
type Filter struct {
	Username string
	// Key matches events of the token and of its direct children.
	Key       string
	Actor     string
	TokenType token.Type
	// IP matches the client address against a single address or a CIDR
	// block.
	IP    netip.Prefix
	Since time.Time
	Until time.Time
	Limit int
	// Cursor resumes a listing after the last event of a previous page.
	Cursor *Cursor
}

// Page is one page of events, newest first.
type Page struct {
	Events []Event
	// Next is the cursor for the following page, nil on the last one.
	Next *Cursor
}

// Cursor is a position in the history, ordered by event time and then by
// insertion order.
type Cursor struct {
	Time time.Time
	ID   int64
}

// String encodes the cursor for use in a query string.
func (c Cursor) String() string {
	return strconv.FormatInt(c.Time.UnixNano(), 10) + "_" + strconv.FormatInt(c.ID, 10)
}

// ParseCursor decodes a cursor produced by Cursor.String.
func ParseCursor(s string) (*Cursor, error) {
	ts, id, ok := strings.Cut(s, "_")
	if !ok {
		return nil, fmt.Errorf("invalid cursor %q", s)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor %q: %w", s, err)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid cursor %q", s)
	}
	return &Cursor{Time: time.Unix(0, nanos).UTC(), ID: n}, nil
}

// ParseIPFilter accepts a single address or a CIDR block.
func ParseIPFilter(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Store persists audit events.
type Store interface {
	// Add appends an event.
	Add(ctx context.Context, event Event) error
	// List returns a page of events matching filter, newest first.
	List(ctx context.Context, filter Filter) (*Page, error)
	// Lapsed returns, for tokens with no revoke or expire event, the most
	// recent create or edit event when its expiry is before the given
	// time.
	Lapsed(ctx context.Context, before time.Time, limit int) ([]Event, error)
}

// Recorder records token lifecycle events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// StoreRecorder writes events to a Store and logs them.
type StoreRecorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder returns a Recorder backed by store.
func NewRecorder(store Store, logger *slog.Logger) *StoreRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreRecorder{store: store, logger: logger}
}

// Record logs the event and adds it to the store.
func (r *StoreRecorder) Record(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	event.LogTo(ctx, r.logger)
	if err := r.store.Add(ctx, event); err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}
	return nil
}

// NoopRecorder discards every event.
type NoopRecorder struct{}

// NewNoopRecorder returns a Recorder that discards events.
func NewNoopRecorder() NoopRecorder {
	return NoopRecorder{}
}

// Record does nothing.
func (NoopRecorder) Record(context.Context, Event) error {
	return nil
}
