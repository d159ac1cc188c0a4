// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/stacklok/tokengate/pkg/token"
)

// DefaultCacheSize is the number of token records kept by CachedTokenStore.
const DefaultCacheSize = 10000

// CachedTokenStore serves GetToken from a short lived in-process cache.
// Revocations and edits made through the wrapper evict the affected
// keys; changes made by other processes become visible once the cached
// entry ages out. Errors are never cached.
type CachedTokenStore struct {
	TokenStore
	cache *expirable.LRU[string, *token.Data]
	now   func() time.Time
}

var _ TokenStore = (*CachedTokenStore)(nil)

// NewCachedTokenStore wraps next with a cache holding entries for ttl.
// A non-positive ttl returns next unchanged.
func NewCachedTokenStore(next TokenStore, size int, ttl time.Duration) TokenStore {
	if ttl <= 0 {
		return next
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &CachedTokenStore{
		TokenStore: next,
		cache:      expirable.NewLRU[string, *token.Data](size, nil, ttl),
		now:        time.Now,
	}
}

// GetToken returns the cached record when present and not expired.
func (c *CachedTokenStore) GetToken(ctx context.Context, key string) (*token.Data, error) {
	if d, ok := c.cache.Get(key); ok {
		if d.Expired(c.now()) {
			c.cache.Remove(key)
			return nil, ErrNotFound
		}
		cp := *d
		return &cp, nil
	}
	d, err := c.TokenStore.GetToken(ctx, key)
	if err != nil {
		return nil, err
	}
	cp := *d
	c.cache.Add(key, &cp)
	return d, nil
}

// RevokeToken revokes key and evicts every revoked record.
func (c *CachedTokenStore) RevokeToken(ctx context.Context, key string) ([]*token.Data, error) {
	c.cache.Remove(key)
	revoked, err := c.TokenStore.RevokeToken(ctx, key)
	for _, d := range revoked {
		c.cache.Remove(d.Key)
	}
	return revoked, err
}

// UpdateToken changes key and evicts it.
func (c *CachedTokenStore) UpdateToken(ctx context.Context, key string, update TokenUpdate) (*token.Data, error) {
	c.cache.Remove(key)
	return c.TokenStore.UpdateToken(ctx, key, update)
}
