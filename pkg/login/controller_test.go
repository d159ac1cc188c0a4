// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package login

import (
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/tokengate/pkg/issuer"
	"github.com/stacklok/tokengate/pkg/storage"
	redisstore "github.com/stacklok/tokengate/pkg/storage/redis"
	"github.com/stacklok/tokengate/pkg/token"
	"github.com/stacklok/tokengate/pkg/upstream"
	"github.com/stacklok/tokengate/pkg/upstream/mocks"
)

type testEnv struct {
	mr         *miniredis.Miniredis
	store      *redisstore.Storage
	provider   *mocks.MockProvider
	enricher   *mocks.MockEnricher
	controller *Controller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hasher, err := token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	store := redisstore.NewStorageWithClient(client, "test:", hasher)

	ctrl := gomock.NewController(t)
	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Name().Return("github").AnyTimes()
	enricher := mocks.NewMockEnricher(ctrl)

	registry := upstream.NewRegistry()
	require.NoError(t, registry.Register(provider))
	registry.AddEnricher(enricher)

	iss := issuer.New(store, hasher, nil, issuer.Config{
		GroupMapping: map[string][]string{"exec:admin": {"admins"}},
	})
	c, err := NewController(Config{BaseURL: "https://example.com"}, registry, store, store, iss)
	require.NoError(t, err)

	return &testEnv{mr: mr, store: store, provider: provider, enricher: enricher, controller: c}
}

// begin starts a login and returns the state sent to the provider.
func (e *testEnv) begin(t *testing.T, returnURL string) string {
	t.Helper()
	var state string
	e.provider.EXPECT().BeginLogin(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(s string, _ ...upstream.LoginOption) (string, error) {
			state = s
			return "https://github.com/login/oauth/authorize?state=" + s, nil
		})
	redirect, err := e.controller.Begin(t.Context(), "", returnURL)
	require.NoError(t, err)
	require.NotEmpty(t, state)
	assert.Contains(t, redirect, "state="+state)
	return state
}

func TestController_FullLogin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	state := env.begin(t, "/app/page")

	env.provider.EXPECT().CompleteLogin(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, p upstream.CallbackParams) (*upstream.Identity, error) {
			assert.Equal(t, "code123", p.Code)
			assert.NotEmpty(t, p.CodeVerifier)
			assert.NotEmpty(t, p.Nonce)
			return &upstream.Identity{Username: "jane", Groups: []string{"devs"}}, nil
		})
	env.enricher.EXPECT().Enrich(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, id *upstream.Identity) error {
			id.AddGroups("admins")
			return nil
		})

	redirect, err := env.controller.Complete(t.Context(), Callback{State: state, Code: "code123"})
	require.NoError(t, err)
	u, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Host)
	assert.Equal(t, TicketPath, u.Path)
	ticket := u.Query().Get("ticket")
	require.NotEmpty(t, ticket)

	res, err := env.controller.Redeem(t.Context(), ticket, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/app/page", res.ReturnURL)
	assert.Equal(t, "jane", res.Data.Username)
	assert.Equal(t, token.TypeSession, res.Data.Type)
	assert.Equal(t, []string{"exec:admin"}, res.Data.Scopes)
	assert.Equal(t, []string{"devs", "admins"}, res.Data.Groups)

	stored, err := env.store.GetToken(t.Context(), res.Token.Key)
	require.NoError(t, err)
	assert.Equal(t, "jane", stored.Username)

	_, err = env.controller.Redeem(t.Context(), ticket, "192.0.2.1")
	require.ErrorIs(t, err, ErrInvalidTicket)
}

func TestController_StateMismatchCreatesNothing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	before := env.mr.Keys()

	_, err := env.controller.Complete(t.Context(), Callback{State: "forged", Code: "code123"})
	require.ErrorIs(t, err, upstream.ErrStateMismatch)

	_, err = env.controller.Complete(t.Context(), Callback{Code: "code123"})
	require.ErrorIs(t, err, upstream.ErrStateMismatch)

	assert.Equal(t, before, env.mr.Keys())
}

func TestController_StateIsSingleUse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	state := env.begin(t, "https://example.com/")

	env.provider.EXPECT().CompleteLogin(gomock.Any(), gomock.Any()).
		Return(&upstream.Identity{Username: "jane"}, nil)
	env.enricher.EXPECT().Enrich(gomock.Any(), gomock.Any()).Return(nil)

	_, err := env.controller.Complete(t.Context(), Callback{State: state, Code: "c"})
	require.NoError(t, err)
	_, err = env.controller.Complete(t.Context(), Callback{State: state, Code: "c"})
	require.ErrorIs(t, err, upstream.ErrStateMismatch)
}

func TestController_ProviderDenied(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	state := env.begin(t, "/")

	env.provider.EXPECT().CompleteLogin(gomock.Any(), gomock.Any()).
		Return(nil, upstream.ErrDenied)

	_, err := env.controller.Complete(t.Context(), Callback{State: state, Error: "access_denied"})
	require.ErrorIs(t, err, upstream.ErrDenied)
	for _, k := range env.mr.Keys() {
		assert.NotContains(t, k, "ticket:")
	}
}

func TestController_Begin_Rejects(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.controller.Begin(t.Context(), "gitlab", "/")
	require.ErrorIs(t, err, ErrUnknownProvider)

	for _, rd := range []string{"", "https://evil.example.org/", "//evil.example.org/x", "javascript:alert(1)", "relative/path"} {
		_, err := env.controller.Begin(t.Context(), "", rd)
		require.ErrorIs(t, err, ErrInvalidReturnURL, rd)
	}
	assert.Empty(t, env.mr.Keys())
}

func TestController_Redeem_Malformed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.controller.Redeem(t.Context(), "not-a-ticket", "")
	require.ErrorIs(t, err, ErrInvalidTicket)
	_, err = env.controller.Redeem(t.Context(), token.NewTicket().String(), "")
	require.ErrorIs(t, err, ErrInvalidTicket)
}

func TestController_Redeem_NoIdentity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	ticket, err := env.store.CreateTicket(t.Context(), &storage.TicketPayload{
		ReturnURL: "https://example.com/app",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = env.controller.Redeem(t.Context(), ticket.String(), "192.0.2.1")
	require.ErrorIs(t, err, ErrInvalidTicket)
	for _, key := range env.mr.Keys() {
		assert.NotContains(t, key, "token:")
	}

	// The ticket is consumed either way.
	_, err = env.controller.Redeem(t.Context(), ticket.String(), "192.0.2.1")
	require.ErrorIs(t, err, ErrInvalidTicket)
}

func TestNewController_InvalidBaseURL(t *testing.T) {
	t.Parallel()
	_, err := NewController(Config{BaseURL: "example.com"}, upstream.NewRegistry(), nil, nil, nil)
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "ticket_issued", StateTicketIssued.String())
	assert.Equal(t, "failed", StateFailed.String())
}
