// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/tokengate/pkg/audit"
	"github.com/stacklok/tokengate/pkg/authz"
	"github.com/stacklok/tokengate/pkg/config"
	"github.com/stacklok/tokengate/pkg/issuer"
	"github.com/stacklok/tokengate/pkg/login"
	"github.com/stacklok/tokengate/pkg/metrics"
	"github.com/stacklok/tokengate/pkg/networking"
	"github.com/stacklok/tokengate/pkg/server"
	"github.com/stacklok/tokengate/pkg/server/handlers"
	"github.com/stacklok/tokengate/pkg/storage"
	redisstore "github.com/stacklok/tokengate/pkg/storage/redis"
	"github.com/stacklok/tokengate/pkg/storage/sqlite"
	"github.com/stacklok/tokengate/pkg/token"
	"github.com/stacklok/tokengate/pkg/upstream"
)

// runServe wires every component from cfg and serves until ctx is done.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	secret, err := config.ReadSecretFile(cfg.SessionSecretFile)
	if err != nil {
		return fmt.Errorf("session secret: %w", err)
	}
	hasher, err := token.NewHasher([]byte(secret))
	if err != nil {
		return fmt.Errorf("session secret: %w", err)
	}

	m := metrics.New()

	logger.Info("connecting to redis", "addr", cfg.Redis.Addr)
	store, err := redisstore.NewStorage(ctx, redisConfig(&cfg.Redis), hasher, redisstore.WithMetrics(m))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	tokens := storage.NewCachedTokenStore(store, cfg.ReadCacheSize, cfg.ReadCacheTTL)

	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	history := sqlite.NewHistoryStore(db)
	defer func() { _ = history.Close() }()
	recorder := audit.NewRecorder(history, logger)

	iss := issuer.New(tokens, hasher, recorder, issuer.Config{
		SessionLifetime:  cfg.Lifetimes.Session,
		NotebookLifetime: cfg.Lifetimes.Notebook,
		InternalLifetime: cfg.Lifetimes.Internal,
		UserMaxLifetime:  cfg.Lifetimes.UserMax,
		GroupMapping:     cfg.GroupMapping,
		KnownScopes:      cfg.KnownScopes,
	},
		issuer.WithMetrics(m),
		issuer.WithLogger(logger),
		issuer.WithHistory(history),
	)

	lastUsed := authz.NewLastUsedUpdater(store, authz.DefaultLastUsedQueueSize, logger)
	engine := authz.NewEngine(tokens, hasher,
		authz.WithLastUsedUpdater(lastUsed),
		authz.WithMetrics(m),
		authz.WithLogger(logger),
	)

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}
	controller, err := login.NewController(login.Config{BaseURL: cfg.BaseURL}, providers, store, store, iss,
		login.WithMetrics(m),
		login.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	h := handlers.NewHandler(handlers.Config{
		Realm:          cfg.Realm,
		CookieName:     cfg.CookieName,
		AfterLogoutURL: cfg.AfterLogoutURL,
		InsecureCookie: cfg.InsecureCookie,
	}, engine, controller, iss, logger)

	srv := server.New(server.Config{
		Listen:        cfg.Listen,
		MetricsListen: cfg.MetricsListen,
	}, h.Routes(), store, m, logger)
	sweeper := audit.NewExpirySweeper(history, store, recorder, cfg.SweepInterval, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return lastUsed.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	return g.Wait()
}

func redisConfig(c *config.RedisConfig) redisstore.Config {
	out := redisstore.Config{
		Addr:             c.Addr,
		Username:         c.Username,
		Password:         c.Password,
		DB:               c.DB,
		KeyPrefix:        c.KeyPrefix,
		DialTimeout:      c.Timeouts.Dial,
		ReadTimeout:      c.Timeouts.Read,
		WriteTimeout:     c.Timeouts.Write,
		OperationTimeout: c.Timeouts.Operation,
		ConnectRetries:   c.ConnectRetries,
	}
	if c.Sentinel != nil {
		out.SentinelConfig = &redisstore.SentinelConfig{
			MasterName:    c.Sentinel.Master,
			SentinelAddrs: c.Sentinel.Addrs,
		}
	}
	return out
}

// buildProviders registers the configured providers, the default first,
// and the LDAP enricher.
func buildProviders(ctx context.Context, cfg *config.Config) (*upstream.Registry, error) {
	client, err := providerHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	order := []string{config.ProviderGitHub, config.ProviderOIDC}
	if cfg.Providers.Default == config.ProviderOIDC {
		order = []string{config.ProviderOIDC, config.ProviderGitHub}
	}

	registry := upstream.NewRegistry()
	for _, name := range order {
		p, err := buildProvider(ctx, cfg, name, client)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	if l := cfg.LDAP; l != nil {
		var bindPassword string
		if l.BindPasswordFile != "" {
			bindPassword, err = config.ReadSecretFile(l.BindPasswordFile)
			if err != nil {
				return nil, fmt.Errorf("ldap bind password: %w", err)
			}
		}
		enricher, err := upstream.NewLDAPEnricher(&upstream.LDAPConfig{
			URL:           l.URL,
			BindDN:        l.BindDN,
			BindPassword:  bindPassword,
			GroupBaseDN:   l.GroupBaseDN,
			GroupFilter:   l.GroupFilter,
			GroupNameAttr: l.GroupNameAttr,
			UserBaseDN:    l.UserBaseDN,
			UIDAttribute:  l.UIDAttribute,
			Timeout:       l.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("ldap: %w", err)
		}
		registry.AddEnricher(enricher)
	}
	return registry, nil
}

func buildProvider(ctx context.Context, cfg *config.Config, name string, client *http.Client) (upstream.Provider, error) {
	switch name {
	case config.ProviderGitHub:
		gh := cfg.Providers.GitHub
		if gh == nil {
			return nil, nil
		}
		secret, err := config.ReadSecretFile(gh.ClientSecretFile)
		if err != nil {
			return nil, fmt.Errorf("github client secret: %w", err)
		}
		return upstream.NewGitHubProvider(&upstream.GitHubConfig{
			Name:         config.ProviderGitHub,
			ClientID:     gh.ClientID,
			ClientSecret: secret,
			RedirectURL:  cfg.RedirectURL(gh.RedirectURL),
		}, upstream.WithGitHubHTTPClient(client))
	case config.ProviderOIDC:
		o := cfg.Providers.OIDC
		if o == nil {
			return nil, nil
		}
		var secret string
		if o.ClientSecretFile != "" {
			var err error
			secret, err = config.ReadSecretFile(o.ClientSecretFile)
			if err != nil {
				return nil, fmt.Errorf("oidc client secret: %w", err)
			}
		}
		return upstream.NewOIDCProvider(ctx, &upstream.OIDCConfig{
			Name:          config.ProviderOIDC,
			Issuer:        o.Issuer,
			ClientID:      o.ClientID,
			ClientSecret:  secret,
			RedirectURL:   cfg.RedirectURL(o.RedirectURL),
			Scopes:        o.Scopes,
			UsernameClaim: o.UsernameClaim,
			GroupsClaim:   o.GroupsClaim,
			UIDClaim:      o.UIDClaim,
		}, upstream.WithOIDCHTTPClient(client))
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

func providerHTTPClient(cfg *config.Config) (*http.Client, error) {
	client, err := networking.NewHttpClientBuilder().
		WithCABundle(cfg.CABundle).
		WithPrivateIPs(cfg.AllowPrivateIPs).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create provider HTTP client: %w", err)
	}
	return client, nil
}
