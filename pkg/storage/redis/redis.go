// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package redis implements the token, ticket and login state stores on
// Redis. Every record is a JSON document whose Redis TTL matches its
// logical expiry; secondary indices are Redis sets.
//
// Key layout, relative to the configured prefix:
//
//	token:<key>               token record
//	token:children:<key>      set of child token keys
//	user:tokens:<username>    set of token keys owned by username
//	user:names:<username>     hash of token name to token key
//	ticket:<key>              login ticket
//	state:<state>             pending login
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stacklok/tokengate/pkg/metrics"
	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Config holds Redis connection configuration.
type Config struct {
	// Addr is a single Redis address. Ignored when SentinelConfig is set.
	Addr string

	// SentinelConfig enables Sentinel failover.
	SentinelConfig *SentinelConfig

	Username string
	Password string
	DB       int

	// KeyPrefix namespaces every key, e.g. "tokengate:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s, Operation=2s).
	DialTimeout      time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	OperationTimeout time.Duration

	// ConnectRetries is how many times the initial ping is attempted.
	ConnectRetries uint
}

// SentinelConfig contains Redis Sentinel configuration.
type SentinelConfig struct {
	MasterName    string
	SentinelAddrs []string
}

// Storage implements storage.TokenStore, storage.TicketStore and
// storage.StateStore.
type Storage struct {
	client    goredis.UniversalClient
	keyPrefix string
	hasher    *token.Hasher
	opTimeout time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

var (
	_ storage.TokenStore  = (*Storage)(nil)
	_ storage.TicketStore = (*Storage)(nil)
	_ storage.StateStore  = (*Storage)(nil)
)

// Option configures a Storage.
type Option func(*Storage)

// WithMetrics records operation latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Storage) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

// WithOperationTimeout overrides the per-operation timeout.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Storage) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// NewStorage connects to Redis and returns a Storage. The initial ping is
// retried with exponential backoff.
func NewStorage(ctx context.Context, cfg Config, hasher *token.Hasher, opts ...Option) (*Storage, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = 5
	}

	uopts := &goredis.UniversalOptions{
		Addrs:        []string{cfg.Addr},
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.SentinelConfig != nil {
		uopts.MasterName = cfg.SentinelConfig.MasterName
		uopts.Addrs = cfg.SentinelConfig.SentinelAddrs
	}
	client := goredis.NewUniversalClient(uopts)

	expBackoff := backoff.NewExponentialBackOff()
	_, err := backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(cfg.ConnectRetries),
		backoff.WithNotify(func(err error, d time.Duration) {
			slog.Warn("redis not reachable, retrying", "error", err, "retry_in", d)
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewStorageWithClient(client, cfg.KeyPrefix, hasher, opts...)
	if cfg.OperationTimeout > 0 {
		s.opTimeout = cfg.OperationTimeout
	}
	return s, nil
}

// NewStorageWithClient creates a Storage with a pre-configured client.
// This is useful for testing with miniredis.
func NewStorageWithClient(client goredis.UniversalClient, keyPrefix string, hasher *token.Hasher, opts ...Option) *Storage {
	s := &Storage{
		client:    client,
		keyPrefix: keyPrefix,
		hasher:    hasher,
		opTimeout: storage.DefaultOperationTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateConfig(cfg *Config) error {
	if cfg.SentinelConfig != nil {
		if cfg.SentinelConfig.MasterName == "" {
			return errors.New("sentinel master name is required")
		}
		if len(cfg.SentinelConfig.SentinelAddrs) == 0 {
			return errors.New("at least one sentinel address is required")
		}
	} else if cfg.Addr == "" {
		return errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		return errors.New("key prefix is required")
	}
	return nil
}

// Close closes the Redis client connection.
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *Storage) Ping(ctx context.Context) error {
	ctx, done := s.op(ctx, "ping")
	defer done()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// op bounds ctx by the operation timeout and records latency when done
// is called.
func (s *Storage) op(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	return ctx, func() {
		cancel()
		s.metrics.ObserveStore(name, time.Since(start))
	}
}

// Key types used in Redis keys.
const (
	keyTypeToken    = "token"
	keyTypeChildren = "token:children"
	keyTypeUserSet  = "user:tokens"
	keyTypeNames    = "user:names"
	keyTypeTicket   = "ticket"
	keyTypeState    = "state"
)

// redisKey builds a namespaced key.
func redisKey(prefix, keyType, id string) string {
	return prefix + keyType + ":" + id
}

// unavailable wraps a Redis transport error.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", storage.ErrUnavailable, op, err)
}
