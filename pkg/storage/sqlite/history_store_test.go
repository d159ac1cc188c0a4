// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"net/netip"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tokengate/pkg/audit"
	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	db, err := Open(t.Context(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	s := NewHistoryStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func event(key string, action audit.Action, at time.Time, expires *time.Time) audit.Event {
	return audit.Event{
		ID:        uuid.New(),
		Key:       key,
		Username:  "jane",
		Type:      token.TypeUser,
		Name:      "ci",
		Scopes:    []string{"read:all", "exec:notebook"},
		Expires:   expires,
		Actor:     "jane",
		Action:    action,
		IPAddress: "192.0.2.1",
		Time:      at,
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestOpen_Migrates(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	db, err := Open(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening an already migrated database is a no-op.
	db, err = Open(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestHistoryStore_AddAndList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	exp := baseTime.Add(time.Hour)
	create := event("k1", audit.ActionCreate, baseTime, &exp)
	require.NoError(t, s.Add(ctx, create))

	edit := event("k1", audit.ActionEdit, baseTime.Add(time.Minute), ptr(baseTime.Add(2*time.Hour)))
	edit.OldExpires = &exp
	require.NoError(t, s.Add(ctx, edit))

	other := event("k2", audit.ActionCreate, baseTime.Add(2*time.Minute), nil)
	other.Username = "joe"
	other.Scopes = nil
	require.NoError(t, s.Add(ctx, other))

	require.ErrorIs(t, s.Add(ctx, create), storage.ErrAlreadyExists)

	page, err := s.List(ctx, audit.Filter{Username: "jane"})
	require.NoError(t, err)
	events := page.Events
	require.Len(t, events, 2)
	assert.Nil(t, page.Next)
	assert.Equal(t, edit.ID, events[0].ID)
	assert.Equal(t, audit.ActionEdit, events[0].Action)
	require.NotNil(t, events[0].OldExpires)
	assert.True(t, exp.Equal(*events[0].OldExpires))
	assert.Nil(t, events[0].OldScopes)
	assert.Equal(t, create.ID, events[1].ID)
	assert.Equal(t, []string{"read:all", "exec:notebook"}, events[1].Scopes)
	assert.Equal(t, "192.0.2.1", events[1].IPAddress)
	assert.True(t, baseTime.Equal(events[1].Time))

	page, err = s.List(ctx, audit.Filter{Key: "k2"})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Nil(t, page.Events[0].Expires)
	assert.Equal(t, []string{}, page.Events[0].Scopes)

	page, err = s.List(ctx, audit.Filter{Since: baseTime.Add(time.Minute), Until: baseTime.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, edit.ID, page.Events[0].ID)

	page, err = s.List(ctx, audit.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, other.ID, page.Events[0].ID)
	assert.NotNil(t, page.Next)
}

func TestHistoryStore_EditFields(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	edit := event("k1", audit.ActionEdit, baseTime, nil)
	edit.Name = "build"
	edit.OldName = "ci"
	edit.Scopes = []string{"read:all"}
	edit.OldScopes = []string{"read:all", "exec:notebook"}
	require.NoError(t, s.Add(ctx, edit))

	page, err := s.List(ctx, audit.Filter{Key: "k1"})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	got := page.Events[0]
	assert.Equal(t, "build", got.Name)
	assert.Equal(t, "ci", got.OldName)
	assert.Equal(t, []string{"read:all"}, got.Scopes)
	assert.Equal(t, []string{"read:all", "exec:notebook"}, got.OldScopes)
}

func TestHistoryStore_Filters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	parent := event("parent", audit.ActionCreate, baseTime, nil)
	child := event("child", audit.ActionCreate, baseTime.Add(time.Minute), nil)
	child.Parent = "parent"
	child.Type = token.TypeNotebook
	child.IPAddress = "10.1.2.3"
	grandchild := event("grandchild", audit.ActionCreate, baseTime.Add(2*time.Minute), nil)
	grandchild.Parent = "child"
	grandchild.Type = token.TypeInternal
	grandchild.IPAddress = "2001:db8::1"
	byAdmin := event("other", audit.ActionRevoke, baseTime.Add(3*time.Minute), nil)
	byAdmin.Actor = "admin"
	byAdmin.IPAddress = ""
	for _, e := range []audit.Event{parent, child, grandchild, byAdmin} {
		require.NoError(t, s.Add(ctx, e))
	}

	keys := func(f audit.Filter) []string {
		t.Helper()
		page, err := s.List(ctx, f)
		require.NoError(t, err)
		var out []string
		for _, e := range page.Events {
			out = append(out, e.Key)
		}
		return out
	}
	mustPrefix := func(v string) netip.Prefix {
		p, err := audit.ParseIPFilter(v)
		require.NoError(t, err)
		return p
	}

	tests := []struct {
		name   string
		filter audit.Filter
		want   []string
	}{
		{name: "key includes direct children", filter: audit.Filter{Key: "parent"}, want: []string{"child", "parent"}},
		{name: "actor", filter: audit.Filter{Actor: "admin"}, want: []string{"other"}},
		{name: "token type", filter: audit.Filter{TokenType: token.TypeNotebook}, want: []string{"child"}},
		{name: "single address", filter: audit.Filter{IP: mustPrefix("192.0.2.1")}, want: []string{"parent"}},
		{name: "ipv4 block", filter: audit.Filter{IP: mustPrefix("10.0.0.0/8")}, want: []string{"child"}},
		{name: "ipv6 block", filter: audit.Filter{IP: mustPrefix("2001:db8::/32")}, want: []string{"grandchild"}},
		{name: "no match", filter: audit.Filter{IP: mustPrefix("198.51.100.0/24")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keys(tt.filter))
		})
	}
}

func TestHistoryStore_CursorPaging(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	// Two events share a timestamp so paging must break ties by insertion
	// order.
	var want []uuid.UUID
	for i, at := range []time.Time{baseTime, baseTime.Add(time.Minute), baseTime.Add(time.Minute), baseTime.Add(2 * time.Minute), baseTime.Add(3 * time.Minute)} {
		e := event("k"+strconv.Itoa(i), audit.ActionCreate, at, nil)
		require.NoError(t, s.Add(ctx, e))
		want = append([]uuid.UUID{e.ID}, want...)
	}

	var got []uuid.UUID
	filter := audit.Filter{Limit: 2}
	pages := 0
	for {
		page, err := s.List(ctx, filter)
		require.NoError(t, err)
		pages++
		for _, e := range page.Events {
			got = append(got, e.ID)
		}
		if page.Next == nil {
			break
		}
		next, err := audit.ParseCursor(page.Next.String())
		require.NoError(t, err)
		filter.Cursor = next
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, pages)
}

func TestHistoryStore_Lapsed(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	// Expired and never revoked.
	require.NoError(t, s.Add(ctx, event("lapsed", audit.ActionCreate, baseTime, ptr(baseTime.Add(time.Hour)))))

	// Revoked before expiry.
	require.NoError(t, s.Add(ctx, event("revoked", audit.ActionCreate, baseTime, ptr(baseTime.Add(time.Hour)))))
	require.NoError(t, s.Add(ctx, event("revoked", audit.ActionRevoke, baseTime.Add(time.Minute), ptr(baseTime.Add(time.Hour)))))

	// Extended past the sweep time.
	require.NoError(t, s.Add(ctx, event("extended", audit.ActionCreate, baseTime, ptr(baseTime.Add(time.Hour)))))
	require.NoError(t, s.Add(ctx, event("extended", audit.ActionEdit, baseTime.Add(time.Minute), ptr(baseTime.Add(5*time.Hour)))))

	// Made permanent.
	require.NoError(t, s.Add(ctx, event("forever", audit.ActionCreate, baseTime, ptr(baseTime.Add(time.Hour)))))
	require.NoError(t, s.Add(ctx, event("forever", audit.ActionEdit, baseTime.Add(time.Minute), nil)))

	// Already recorded as expired.
	require.NoError(t, s.Add(ctx, event("done", audit.ActionCreate, baseTime, ptr(baseTime.Add(time.Hour)))))
	require.NoError(t, s.Add(ctx, event("done", audit.ActionExpire, baseTime.Add(time.Hour), ptr(baseTime.Add(time.Hour)))))

	// Not yet expired.
	require.NoError(t, s.Add(ctx, event("live", audit.ActionCreate, baseTime, ptr(baseTime.Add(4*time.Hour)))))

	lapsed, err := s.Lapsed(ctx, baseTime.Add(2*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, "lapsed", lapsed[0].Key)
	assert.Equal(t, audit.ActionCreate, lapsed[0].Action)
}
