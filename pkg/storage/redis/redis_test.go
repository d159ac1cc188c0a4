// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
	"github.com/stacklok/tokengate/pkg/upstream"
)

const testPrefix = "test:"

type testClock struct {
	now atomic.Pointer[time.Time]
}

func newTestClock() *testClock {
	c := &testClock{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now.Store(&now)
	return c
}

func (c *testClock) Now() time.Time {
	return *c.now.Load()
}

func (c *testClock) Advance(d time.Duration) {
	next := c.Now().Add(d)
	c.now.Store(&next)
}

type testEnv struct {
	mr     *miniredis.Miniredis
	store  *Storage
	clock  *testClock
	hasher *token.Hasher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	hasher, err := token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	clock := newTestClock()
	return &testEnv{
		mr:     mr,
		store:  NewStorageWithClient(client, testPrefix, hasher, WithClock(clock.Now)),
		clock:  clock,
		hasher: hasher,
	}
}

// advance moves both the storage clock and the Redis TTL clock.
func (e *testEnv) advance(d time.Duration) {
	e.clock.Advance(d)
	e.mr.FastForward(d)
}

func (e *testEnv) newData(username string, tokenType token.Type, lifetime time.Duration, parent string) *token.Data {
	tok := token.New()
	d := &token.Data{
		Key:         tok.Key,
		Fingerprint: e.hasher.Fingerprint(tok.Secret),
		Type:        tokenType,
		Username:    username,
		Scopes:      []string{"read:all"},
		Created:     e.clock.Now(),
		Parent:      parent,
	}
	if lifetime > 0 {
		exp := e.clock.Now().Add(lifetime)
		d.Expires = &exp
	}
	return d
}

func (e *testEnv) mustCreate(t *testing.T, d *token.Data) *token.Data {
	t.Helper()
	require.NoError(t, e.store.CreateToken(t.Context(), d))
	return d
}

func collect(t *testing.T, seq func(func(*token.Data, error) bool)) []string {
	t.Helper()
	var keys []string
	for d, err := range seq {
		require.NoError(t, err)
		keys = append(keys, d.Key)
	}
	slices.Sort(keys)
	return keys
}

func TestStorage_CreateAndGet(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	d := env.mustCreate(t, env.newData("jane", token.TypeSession, time.Hour, ""))

	got, err := env.store.GetToken(ctx, d.Key)
	require.NoError(t, err)
	assert.Equal(t, d.Username, got.Username)
	assert.Equal(t, d.Fingerprint, got.Fingerprint)
	assert.False(t, env.hasher.Verify("", got.Fingerprint))
	assert.WithinDuration(t, *d.Expires, *got.Expires, time.Millisecond)

	ttl := env.mr.TTL(env.store.tokenKey(d.Key))
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 1)

	require.ErrorIs(t, env.store.CreateToken(ctx, d), storage.ErrAlreadyExists)

	_, err = env.store.GetToken(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_CreateNoExpiry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	d := env.mustCreate(t, env.newData("svc", token.TypeService, 0, ""))
	assert.Equal(t, time.Duration(0), env.mr.TTL(env.store.tokenKey(d.Key)))

	got, err := env.store.GetToken(t.Context(), d.Key)
	require.NoError(t, err)
	assert.Nil(t, got.Expires)
}

func TestStorage_CreateRejectsExpired(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	d := env.newData("jane", token.TypeUser, time.Hour, "")
	past := env.clock.Now().Add(-time.Second)
	d.Expires = &past
	require.Error(t, env.store.CreateToken(t.Context(), d))
}

func TestStorage_DuplicateName(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	first := env.newData("jane", token.TypeUser, time.Hour, "")
	first.Name = "ci"
	env.mustCreate(t, first)

	second := env.newData("jane", token.TypeUser, time.Hour, "")
	second.Name = "ci"
	require.ErrorIs(t, env.store.CreateToken(ctx, second), storage.ErrDuplicateName)

	// Names are per user.
	other := env.newData("joe", token.TypeUser, time.Hour, "")
	other.Name = "ci"
	require.NoError(t, env.store.CreateToken(ctx, other))

	// Revoking the owner releases the name.
	_, err := env.store.RevokeToken(ctx, first.Key)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateToken(ctx, second))
}

func TestStorage_NameReleasedOnExpiry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	first := env.newData("jane", token.TypeUser, 10*time.Minute, "")
	first.Name = "ci"
	env.mustCreate(t, first)
	env.advance(11 * time.Minute)

	second := env.newData("jane", token.TypeUser, time.Hour, "")
	second.Name = "ci"
	require.NoError(t, env.store.CreateToken(t.Context(), second))
}

func TestStorage_ChildRequiresParent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	child := env.newData("jane", token.TypeNotebook, time.Hour, "nonexistentparentkey00")
	require.ErrorIs(t, env.store.CreateToken(t.Context(), child), storage.ErrParentRevoked)
}

func TestStorage_ChildrenSetFollowsParentTTL(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	root := env.mustCreate(t, env.newData("jane", token.TypeSession, time.Hour, ""))
	child := env.mustCreate(t, env.newData("jane", token.TypeNotebook, 30*time.Minute, root.Key))

	children, err := env.store.Children(t.Context(), root.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{child.Key}, children)

	ttl := env.mr.TTL(env.store.childrenKey(root.Key))
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 1)
}

func TestStorage_CascadeRevoke(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	root := env.newData("jane", token.TypeSession, time.Hour, "")
	root.Name = "session"
	env.mustCreate(t, root)
	child := env.mustCreate(t, env.newData("jane", token.TypeNotebook, time.Hour, root.Key))
	grandchild := env.mustCreate(t, env.newData("jane", token.TypeInternal, time.Hour, child.Key))
	sibling := env.mustCreate(t, env.newData("jane", token.TypeInternal, time.Hour, root.Key))
	unrelated := env.mustCreate(t, env.newData("jane", token.TypeUser, time.Hour, ""))

	revoked, err := env.store.RevokeToken(ctx, root.Key)
	require.NoError(t, err)
	require.Len(t, revoked, 4)
	assert.Equal(t, root.Key, revoked[0].Key)

	for _, k := range []string{root.Key, child.Key, grandchild.Key, sibling.Key} {
		_, err := env.store.GetToken(ctx, k)
		require.ErrorIs(t, err, storage.ErrNotFound, k)
		assert.False(t, env.mr.Exists(env.store.childrenKey(k)))
	}

	_, err = env.store.GetToken(ctx, unrelated.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{unrelated.Key}, collect(t, env.store.ListTokens(ctx, "jane")))

	_, err = env.store.RevokeToken(ctx, root.Key)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_RevokeChildDetachesFromParent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	root := env.mustCreate(t, env.newData("jane", token.TypeSession, time.Hour, ""))
	child := env.mustCreate(t, env.newData("jane", token.TypeNotebook, time.Hour, root.Key))

	revoked, err := env.store.RevokeToken(ctx, child.Key)
	require.NoError(t, err)
	require.Len(t, revoked, 1)

	children, err := env.store.Children(ctx, root.Key)
	require.NoError(t, err)
	assert.Empty(t, children)
	_, err = env.store.GetToken(ctx, root.Key)
	require.NoError(t, err)
}

func TestStorage_MissingAncestorFailsClosed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	root := env.mustCreate(t, env.newData("jane", token.TypeSession, time.Hour, ""))
	child := env.mustCreate(t, env.newData("jane", token.TypeNotebook, time.Hour, root.Key))
	grandchild := env.mustCreate(t, env.newData("jane", token.TypeInternal, time.Hour, child.Key))

	// Simulate an interrupted cascade: the root record is gone but the
	// descendants and indices are still in place.
	env.mr.Del(env.store.tokenKey(root.Key))

	_, err := env.store.GetToken(ctx, child.Key)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = env.store.GetToken(ctx, grandchild.Key)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Listing agrees with lookup.
	assert.Empty(t, collect(t, env.store.ListTokens(ctx, "jane")))
}

func TestStorage_Expiry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	d := env.mustCreate(t, env.newData("jane", token.TypeSession, 10*time.Minute, ""))

	// Past the logical expiry but before Redis evicts the key.
	env.clock.Advance(10 * time.Minute)
	_, err := env.store.GetToken(ctx, d.Key)
	require.ErrorIs(t, err, storage.ErrNotFound)

	env.mr.FastForward(10 * time.Minute)
	assert.False(t, env.mr.Exists(env.store.tokenKey(d.Key)))
	assert.Empty(t, collect(t, env.store.ListTokens(ctx, "jane")))
}

func TestStorage_ListTokens(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	var want []string
	for range 5 {
		want = append(want, env.mustCreate(t, env.newData("jane", token.TypeUser, time.Hour, "")).Key)
	}
	short := env.mustCreate(t, env.newData("jane", token.TypeUser, 5*time.Minute, ""))
	env.mustCreate(t, env.newData("joe", token.TypeUser, time.Hour, ""))

	dangling := env.mustCreate(t, env.newData("jane", token.TypeUser, time.Hour, ""))
	env.mr.Del(env.store.tokenKey(dangling.Key))

	env.clock.Advance(6 * time.Minute)
	slices.Sort(want)
	assert.Equal(t, want, collect(t, env.store.ListTokens(ctx, "jane")))

	members, err := env.mr.Members(env.store.userSetKey("jane"))
	require.NoError(t, err)
	assert.NotContains(t, members, dangling.Key)
	assert.Contains(t, members, short.Key)

	// Stopping early is honoured.
	n := 0
	for range env.store.ListTokens(ctx, "jane") {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestStorage_FindChild(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	root := env.mustCreate(t, env.newData("jane", token.TypeSession, time.Hour, ""))
	_, err := env.store.FindChild(ctx, root.Key, func(*token.Data) bool { return true })
	require.ErrorIs(t, err, storage.ErrNotFound)

	notebook := env.mustCreate(t, env.newData("jane", token.TypeNotebook, time.Hour, root.Key))
	internal := env.newData("jane", token.TypeInternal, time.Hour, root.Key)
	internal.Service = "portal"
	env.mustCreate(t, internal)

	got, err := env.store.FindChild(ctx, root.Key, func(d *token.Data) bool {
		return d.Type == token.TypeInternal && d.Service == "portal"
	})
	require.NoError(t, err)
	assert.Equal(t, internal.Key, got.Key)

	got, err = env.store.FindChild(ctx, root.Key, func(d *token.Data) bool { return d.Type == token.TypeNotebook })
	require.NoError(t, err)
	assert.Equal(t, notebook.Key, got.Key)

	_, err = env.store.FindChild(ctx, root.Key, func(d *token.Data) bool { return d.Service == "other" })
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_UpdateLastUsed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	d := env.mustCreate(t, env.newData("jane", token.TypeSession, time.Hour, ""))
	env.mr.FastForward(10 * time.Minute)

	at := env.clock.Now().Add(time.Minute)
	require.NoError(t, env.store.UpdateLastUsed(ctx, d.Key, at))

	got, err := env.store.GetToken(ctx, d.Key)
	require.NoError(t, err)
	require.NotNil(t, got.LastUsed)
	assert.True(t, at.Equal(*got.LastUsed))
	assert.Equal(t, []string{"read:all"}, got.Scopes)

	ttl := env.mr.TTL(env.store.tokenKey(d.Key))
	assert.InDelta(t, (50 * time.Minute).Seconds(), ttl.Seconds(), 1)

	// Older timestamps do not move last used backwards.
	require.NoError(t, env.store.UpdateLastUsed(ctx, d.Key, at.Add(-time.Minute)))
	got, err = env.store.GetToken(ctx, d.Key)
	require.NoError(t, err)
	assert.True(t, at.Equal(*got.LastUsed))

	require.ErrorIs(t, env.store.UpdateLastUsed(ctx, "missing", at), storage.ErrNotFound)
}

func TestStorage_UpdateTokenExpires(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	root := env.mustCreate(t, env.newData("jane", token.TypeUser, time.Hour, ""))
	env.mustCreate(t, env.newData("jane", token.TypeInternal, 30*time.Minute, root.Key))

	later := env.clock.Now().Add(2 * time.Hour)
	updated, err := env.store.UpdateToken(ctx, root.Key, storage.TokenUpdate{Expires: &later, SetExpires: true})
	require.NoError(t, err)
	assert.True(t, later.Equal(*updated.Expires))
	assert.InDelta(t, (2 * time.Hour).Seconds(), env.mr.TTL(env.store.tokenKey(root.Key)).Seconds(), 1)
	assert.InDelta(t, (2 * time.Hour).Seconds(), env.mr.TTL(env.store.childrenKey(root.Key)).Seconds(), 1)

	updated, err = env.store.UpdateToken(ctx, root.Key, storage.TokenUpdate{SetExpires: true})
	require.NoError(t, err)
	assert.Nil(t, updated.Expires)
	assert.Equal(t, time.Duration(0), env.mr.TTL(env.store.tokenKey(root.Key)))
	assert.Equal(t, time.Duration(0), env.mr.TTL(env.store.childrenKey(root.Key)))

	past := env.clock.Now().Add(-time.Minute)
	_, err = env.store.UpdateToken(ctx, root.Key, storage.TokenUpdate{Expires: &past, SetExpires: true})
	require.Error(t, err)

	_, err = env.store.UpdateToken(ctx, "missing", storage.TokenUpdate{Expires: &later, SetExpires: true})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_UpdateTokenNameAndScopes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	ci := env.newData("jane", token.TypeUser, time.Hour, "")
	ci.Name = "ci"
	env.mustCreate(t, ci)
	deploy := env.newData("jane", token.TypeUser, time.Hour, "")
	deploy.Name = "deploy"
	env.mustCreate(t, deploy)

	name := "build"
	updated, err := env.store.UpdateToken(ctx, ci.Key, storage.TokenUpdate{
		Name:   &name,
		Scopes: []string{"exec:notebook"},
	})
	require.NoError(t, err)
	assert.Equal(t, "build", updated.Name)
	assert.Equal(t, []string{"exec:notebook"}, updated.Scopes)
	require.NotNil(t, updated.Expires)
	assert.InDelta(t, time.Hour.Seconds(), env.mr.TTL(env.store.tokenKey(ci.Key)).Seconds(), 1)

	assert.Equal(t, ci.Key, env.mr.HGet(env.store.namesKey("jane"), "build"))
	assert.Empty(t, env.mr.HGet(env.store.namesKey("jane"), "ci"))

	// The old name is free again, the name of another live token is not.
	reuse := env.newData("jane", token.TypeUser, time.Hour, "")
	reuse.Name = "ci"
	require.NoError(t, env.store.CreateToken(ctx, reuse))

	taken := "deploy"
	_, err = env.store.UpdateToken(ctx, ci.Key, storage.TokenUpdate{Name: &taken})
	require.ErrorIs(t, err, storage.ErrDuplicateName)
	got, err := env.store.GetToken(ctx, ci.Key)
	require.NoError(t, err)
	assert.Equal(t, "build", got.Name)

	// Renaming to the current name is a no-op.
	_, err = env.store.UpdateToken(ctx, ci.Key, storage.TokenUpdate{Name: &name})
	require.NoError(t, err)
}

func newTicketPayload() *storage.TicketPayload {
	return &storage.TicketPayload{
		Identity:  &upstream.Identity{Provider: "github", Username: "jane", Groups: []string{"eng"}},
		ReturnURL: "https://app.example.com/",
	}
}

func TestStorage_TicketRedeemOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	ticket, err := env.store.CreateTicket(ctx, newTicketPayload())
	require.NoError(t, err)

	ttl := env.mr.TTL(redisKey(testPrefix, keyTypeTicket, ticket.Key))
	assert.Equal(t, storage.DefaultTicketTTL, ttl)

	payload, err := env.store.RedeemTicket(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, "jane", payload.Identity.Username)
	assert.Equal(t, "https://app.example.com/", payload.ReturnURL)

	_, err = env.store.RedeemTicket(ctx, ticket)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_TicketSecretMismatchConsumes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	ticket, err := env.store.CreateTicket(ctx, newTicketPayload())
	require.NoError(t, err)

	wrong := ticket
	wrong.Secret = token.NewTicket().Secret
	_, err = env.store.RedeemTicket(ctx, wrong)
	require.ErrorIs(t, err, storage.ErrSecretMismatch)

	_, err = env.store.RedeemTicket(ctx, ticket)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_TicketExpires(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	ticket, err := env.store.CreateTicket(ctx, newTicketPayload())
	require.NoError(t, err)
	env.advance(storage.DefaultTicketTTL + time.Second)

	_, err = env.store.RedeemTicket(ctx, ticket)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_TicketConcurrentRedeem(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	ticket, err := env.store.CreateTicket(ctx, newTicketPayload())
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		notFound  atomic.Int32
	)
	for range workers {
		wg.Go(func() {
			_, err := env.store.RedeemTicket(ctx, ticket)
			switch {
			case err == nil:
				successes.Add(1)
			case assert.ErrorIs(t, err, storage.ErrNotFound):
				notFound.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), notFound.Load())
}

func TestStorage_LoginState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	login := &storage.LoginState{Provider: "github", ReturnURL: "/", CodeVerifier: "v"}
	require.NoError(t, env.store.SaveState(ctx, "state-1", login))
	require.ErrorIs(t, env.store.SaveState(ctx, "state-1", login), storage.ErrAlreadyExists)
	require.Error(t, env.store.SaveState(ctx, "", login))

	got, err := env.store.ConsumeState(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, "github", got.Provider)
	assert.Equal(t, "v", got.CodeVerifier)

	_, err = env.store.ConsumeState(ctx, "state-1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, env.store.SaveState(ctx, "state-2", &storage.LoginState{Provider: "github"}))
	env.clock.Advance(storage.DefaultLoginStateTTL + time.Second)
	_, err = env.store.ConsumeState(ctx, "state-2")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_Unavailable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := t.Context()

	d := env.mustCreate(t, env.newData("jane", token.TypeSession, time.Hour, ""))
	env.mr.Close()

	_, err := env.store.GetToken(ctx, d.Key)
	require.ErrorIs(t, err, storage.ErrUnavailable)
	require.NotErrorIs(t, err, storage.ErrNotFound)

	require.ErrorIs(t, env.store.CreateToken(ctx, env.newData("jane", token.TypeUser, time.Hour, "")), storage.ErrUnavailable)
	_, err = env.store.RevokeToken(ctx, d.Key)
	require.ErrorIs(t, err, storage.ErrUnavailable)
	_, err = env.store.RedeemTicket(ctx, token.NewTicket())
	require.ErrorIs(t, err, storage.ErrUnavailable)
	require.ErrorIs(t, env.store.Ping(ctx), storage.ErrUnavailable)

	for _, err := range env.store.ListTokens(ctx, "jane") {
		require.ErrorIs(t, err, storage.ErrUnavailable)
	}
}

func TestNewStorage(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	hasher, err := token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	s, err := NewStorage(t.Context(), Config{Addr: mr.Addr(), KeyPrefix: "gate:"}, hasher)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(t.Context()))

	_, err = NewStorage(t.Context(), Config{Addr: mr.Addr(), KeyPrefix: "gate:"}, nil)
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	_, err = NewStorage(ctx, Config{Addr: "127.0.0.1:1", KeyPrefix: "gate:", ConnectRetries: 2}, hasher)
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "standalone", cfg: Config{Addr: "localhost:6379", KeyPrefix: "p:"}},
		{name: "missing address", cfg: Config{KeyPrefix: "p:"}, wantErr: true},
		{name: "missing prefix", cfg: Config{Addr: "localhost:6379"}, wantErr: true},
		{
			name: "sentinel",
			cfg: Config{KeyPrefix: "p:", SentinelConfig: &SentinelConfig{
				MasterName: "mymaster", SentinelAddrs: []string{"s1:26379"},
			}},
		},
		{
			name:    "sentinel without master",
			cfg:     Config{KeyPrefix: "p:", SentinelConfig: &SentinelConfig{SentinelAddrs: []string{"s1:26379"}}},
			wantErr: true,
		},
		{
			name:    "sentinel without addresses",
			cfg:     Config{KeyPrefix: "p:", SentinelConfig: &SentinelConfig{MasterName: "m"}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := validateConfig(&tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
