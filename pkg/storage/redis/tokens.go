// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
)

// maxAncestry bounds the parent chain walked when loading a token.
const maxAncestry = 16

// scanBatch is the COUNT hint used when iterating a user's tokens.
const scanBatch = 100

// updateRetries bounds optimistic transaction retries.
const updateRetries = 3

// createTokenScript atomically stores a token and its index entries.
//
// KEYS[1] token, KEYS[2] user set, KEYS[3] user names hash,
// KEYS[4] parent children set, KEYS[5] parent token.
// ARGV[1] record, ARGV[2] ttl ms (0 for none), ARGV[3] key, ARGV[4] name,
// ARGV[5] "1" when the token has a parent, ARGV[6] token key prefix.
//
// Returns 1 on success, 0 if the key exists, -1 on a duplicate name and
// -2 when the parent is gone.
var createTokenScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
if ARGV[5] == '1' and redis.call('EXISTS', KEYS[5]) == 0 then
  return -2
end
if ARGV[4] ~= '' then
  local existing = redis.call('HGET', KEYS[3], ARGV[4])
  if existing and redis.call('EXISTS', ARGV[6] .. existing) == 1 then
    return -1
  end
  redis.call('HSET', KEYS[3], ARGV[4], ARGV[3])
end
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
redis.call('SADD', KEYS[2], ARGV[3])
if ARGV[5] == '1' then
  redis.call('SADD', KEYS[4], ARGV[3])
  local pttl = redis.call('PTTL', KEYS[5])
  if pttl > 0 then
    redis.call('PEXPIRE', KEYS[4], pttl)
  end
end
return 1
`)

// getTokenScript loads a token only if every ancestor still exists.
//
// KEYS[1] token. ARGV[1] token key prefix, ARGV[2] max depth.
var getTokenScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return false
end
local parent = cjson.decode(raw).parent
local depth = 0
local limit = tonumber(ARGV[2])
while parent and parent ~= '' and depth < limit do
  local p = redis.call('GET', ARGV[1] .. parent)
  if not p then
    return false
  end
  parent = cjson.decode(p).parent
  depth = depth + 1
end
if parent and parent ~= '' then
  return false
end
return raw
`)

func (s *Storage) tokenKey(key string) string {
	return redisKey(s.keyPrefix, keyTypeToken, key)
}

func (s *Storage) childrenKey(key string) string {
	return redisKey(s.keyPrefix, keyTypeChildren, key)
}

func (s *Storage) userSetKey(username string) string {
	return redisKey(s.keyPrefix, keyTypeUserSet, username)
}

func (s *Storage) namesKey(username string) string {
	return redisKey(s.keyPrefix, keyTypeNames, username)
}

// CreateToken stores a new token record with a TTL matching its expiry.
func (s *Storage) CreateToken(ctx context.Context, data *token.Data) error {
	if data == nil || data.Key == "" {
		return errors.New("token data with a key is required")
	}
	var ttl time.Duration
	if data.Expires != nil {
		ttl = data.Expires.Sub(s.now())
		if ttl <= 0 {
			return fmt.Errorf("token %s is already expired", data.Key)
		}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	ctx, done := s.op(ctx, "create_token")
	defer done()

	hasParent := "0"
	if data.Parent != "" {
		hasParent = "1"
	}
	keys := []string{
		s.tokenKey(data.Key),
		s.userSetKey(data.Username),
		s.namesKey(data.Username),
		s.childrenKey(data.Parent),
		s.tokenKey(data.Parent),
	}
	res, err := createTokenScript.Run(ctx, s.client, keys,
		raw, ttl.Milliseconds(), data.Key, data.Name, hasParent,
		redisKey(s.keyPrefix, keyTypeToken, ""),
	).Int()
	if err != nil {
		return unavailable("create token", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return storage.ErrAlreadyExists
	case -1:
		return storage.ErrDuplicateName
	case -2:
		return storage.ErrParentRevoked
	}
	return fmt.Errorf("unexpected create result %d", res)
}

// GetToken loads a token record. A token whose ancestor is missing is
// reported as not found.
func (s *Storage) GetToken(ctx context.Context, key string) (*token.Data, error) {
	ctx, done := s.op(ctx, "get_token")
	defer done()

	raw, err := getTokenScript.Run(ctx, s.client, []string{s.tokenKey(key)},
		redisKey(s.keyPrefix, keyTypeToken, ""), maxAncestry,
	).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get token", err)
	}
	data, err := decodeToken(raw)
	if err != nil {
		return nil, err
	}
	if data.Expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

// RevokeToken deletes key and every descendant in one transaction.
func (s *Storage) RevokeToken(ctx context.Context, key string) ([]*token.Data, error) {
	ctx, done := s.op(ctx, "revoke_token")
	defer done()

	raw, err := s.client.Get(ctx, s.tokenKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("revoke token", err)
	}
	root, err := decodeToken(raw)
	if err != nil {
		return nil, err
	}

	descendants, err := s.descendants(ctx, key)
	if err != nil {
		return nil, err
	}
	records := []*token.Data{root}
	if len(descendants) > 0 {
		found, err := s.loadTokens(ctx, descendants)
		if err != nil {
			return nil, err
		}
		for _, d := range found {
			if d != nil {
				records = append(records, d)
			}
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, k := range append([]string{key}, descendants...) {
			pipe.Del(ctx, s.tokenKey(k), s.childrenKey(k))
		}
		for _, d := range records {
			pipe.SRem(ctx, s.userSetKey(d.Username), d.Key)
			if d.Name != "" {
				pipe.HDel(ctx, s.namesKey(d.Username), d.Name)
			}
		}
		if root.Parent != "" {
			pipe.SRem(ctx, s.childrenKey(root.Parent), key)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("revoke token", err)
	}
	return records, nil
}

// descendants returns every key reachable through the children sets of
// key, breadth first.
func (s *Storage) descendants(ctx context.Context, key string) ([]string, error) {
	seen := map[string]struct{}{key: {}}
	var out []string
	level := []string{key}
	for len(level) > 0 {
		pipe := s.client.Pipeline()
		cmds := make([]*goredis.StringSliceCmd, len(level))
		for i, k := range level {
			cmds[i] = pipe.SMembers(ctx, s.childrenKey(k))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return nil, unavailable("load children", err)
		}
		var next []string
		for _, cmd := range cmds {
			for _, child := range cmd.Val() {
				if _, ok := seen[child]; ok {
					continue
				}
				seen[child] = struct{}{}
				out = append(out, child)
				next = append(next, child)
			}
		}
		level = next
	}
	return out, nil
}

// loadTokens fetches records for keys. Missing records are nil.
func (s *Storage) loadTokens(ctx context.Context, keys []string) ([]*token.Data, error) {
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.tokenKey(k)
	}
	vals, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, unavailable("load tokens", err)
	}
	out := make([]*token.Data, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		d, err := decodeToken(raw)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// ListTokens iterates the live tokens of username. Index entries whose
// record has gone are removed as they are found. Tokens with a missing
// ancestor are skipped, as GetToken would deny them.
func (s *Storage) ListTokens(ctx context.Context, username string) iter.Seq2[*token.Data, error] {
	return func(yield func(*token.Data, error) bool) {
		setKey := s.userSetKey(username)
		var cursor uint64
		for {
			opCtx, done := s.op(ctx, "list_tokens")
			keys, next, err := s.client.SScan(opCtx, setKey, cursor, "", scanBatch).Result()
			if err != nil {
				done()
				yield(nil, unavailable("list tokens", err))
				return
			}
			var records []*token.Data
			if len(keys) > 0 {
				records, err = s.loadTokens(opCtx, keys)
				if err != nil {
					done()
					yield(nil, err)
					return
				}
			}
			var dangling []any
			var live []*token.Data
			now := s.now()
			for i, d := range records {
				switch {
				case d == nil:
					dangling = append(dangling, keys[i])
					continue
				case d.Expired(now):
					continue
				}
				orphaned, err := s.orphaned(opCtx, d)
				if err != nil {
					done()
					yield(nil, err)
					return
				}
				if !orphaned {
					live = append(live, d)
				}
			}
			if len(dangling) > 0 {
				_ = s.client.SRem(opCtx, setKey, dangling...).Err()
			}
			done()

			for _, d := range live {
				if !yield(d, nil) {
					return
				}
			}
			cursor = next
			if cursor == 0 {
				return
			}
		}
	}
}

// orphaned reports whether an ancestor of d is missing, in which case
// GetToken would not return it either.
func (s *Storage) orphaned(ctx context.Context, d *token.Data) (bool, error) {
	if d.Parent == "" {
		return false, nil
	}
	err := getTokenScript.Run(ctx, s.client, []string{s.tokenKey(d.Key)},
		redisKey(s.keyPrefix, keyTypeToken, ""), maxAncestry,
	).Err()
	if errors.Is(err, goredis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, unavailable("list tokens", err)
	}
	return false, nil
}

// Children returns the keys of the direct children of key.
func (s *Storage) Children(ctx context.Context, key string) ([]string, error) {
	ctx, done := s.op(ctx, "children")
	defer done()

	keys, err := s.client.SMembers(ctx, s.childrenKey(key)).Result()
	if err != nil {
		return nil, unavailable("children", err)
	}
	return keys, nil
}

// FindChild returns the first live child of parent accepted by match.
func (s *Storage) FindChild(ctx context.Context, parent string, match func(*token.Data) bool) (*token.Data, error) {
	ctx, done := s.op(ctx, "find_child")
	defer done()

	keys, err := s.client.SMembers(ctx, s.childrenKey(parent)).Result()
	if err != nil {
		return nil, unavailable("find child", err)
	}
	if len(keys) == 0 {
		return nil, storage.ErrNotFound
	}
	records, err := s.loadTokens(ctx, keys)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, d := range records {
		if d != nil && !d.Expired(now) && match(d) {
			return d, nil
		}
	}
	return nil, storage.ErrNotFound
}

// UpdateLastUsed records the last time the token was presented. The
// record keeps its TTL.
func (s *Storage) UpdateLastUsed(ctx context.Context, key string, at time.Time) error {
	ctx, done := s.op(ctx, "update_last_used")
	defer done()

	_, err := s.update(ctx, key, func(_ *goredis.Tx, d *token.Data) (time.Duration, func(goredis.Pipeliner), error) {
		if d.LastUsed != nil && !at.After(*d.LastUsed) {
			return 0, nil, errSkip
		}
		at := at.UTC()
		d.LastUsed = &at
		return goredis.KeepTTL, nil, nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}
	return err
}

// UpdateToken applies update to key and returns the updated record. A
// rename moves the entry in the user's name index in the same
// transaction. The TTL of the record and its children set follows a new
// expiry.
func (s *Storage) UpdateToken(ctx context.Context, key string, update storage.TokenUpdate) (*token.Data, error) {
	ctx, done := s.op(ctx, "update_token")
	defer done()

	var ttl time.Duration = goredis.KeepTTL
	if update.SetExpires {
		ttl = 0
		if update.Expires != nil {
			ttl = update.Expires.Sub(s.now())
			if ttl <= 0 {
				return nil, fmt.Errorf("expiry %s is in the past", update.Expires.Format(time.RFC3339))
			}
		}
	}
	return s.update(ctx, key, func(tx *goredis.Tx, d *token.Data) (time.Duration, func(goredis.Pipeliner), error) {
		var rename func(goredis.Pipeliner)
		if update.Name != nil && *update.Name != d.Name {
			var err error
			if rename, err = s.renameToken(ctx, tx, d, *update.Name); err != nil {
				return 0, nil, err
			}
			d.Name = *update.Name
		}
		if update.Scopes != nil {
			d.Scopes = slices.Clone(update.Scopes)
		}
		if update.SetExpires {
			d.Expires = update.Expires
		}
		return ttl, rename, nil
	})
}

// renameToken checks that name is free for the owner of d and returns the
// commands moving the name index entry. The names hash is watched so a
// concurrent claim of the same name aborts the transaction.
func (s *Storage) renameToken(ctx context.Context, tx *goredis.Tx, d *token.Data, name string) (func(goredis.Pipeliner), error) {
	namesKey := s.namesKey(d.Username)
	if err := tx.Watch(ctx, namesKey).Err(); err != nil {
		return nil, unavailable("rename token", err)
	}
	if name != "" {
		existing, err := tx.HGet(ctx, namesKey, name).Result()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return nil, unavailable("rename token", err)
		case existing != d.Key:
			n, err := tx.Exists(ctx, s.tokenKey(existing)).Result()
			if err != nil {
				return nil, unavailable("rename token", err)
			}
			if n > 0 {
				return nil, storage.ErrDuplicateName
			}
		}
	}
	oldName := d.Name
	return func(pipe goredis.Pipeliner) {
		if oldName != "" {
			pipe.HDel(ctx, namesKey, oldName)
		}
		if name != "" {
			pipe.HSet(ctx, namesKey, name, d.Key)
		}
	}, nil
}

var errSkip = errors.New("skip update")

// updateFunc changes a record inside an optimistic transaction. It
// returns the expiration to set, where goredis.KeepTTL keeps the current
// TTL and zero removes it, and optional extra commands for the same
// transaction.
type updateFunc func(tx *goredis.Tx, d *token.Data) (time.Duration, func(goredis.Pipeliner), error)

// update applies fn to the stored record of key inside an optimistic
// transaction.
func (s *Storage) update(ctx context.Context, key string, fn updateFunc) (*token.Data, error) {
	tk := s.tokenKey(key)
	var updated *token.Data

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, tk).Result()
		if errors.Is(err, goredis.Nil) {
			return storage.ErrNotFound
		}
		if err != nil {
			return unavailable("update token", err)
		}
		d, err := decodeToken(raw)
		if err != nil {
			return err
		}
		if d.Expired(s.now()) {
			return storage.ErrNotFound
		}
		ttl, extra, err := fn(tx, d)
		if err != nil {
			return err
		}
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal token: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, tk, b, ttl)
			switch {
			case ttl == goredis.KeepTTL:
			case ttl > 0:
				pipe.PExpire(ctx, s.childrenKey(key), ttl)
			default:
				pipe.Persist(ctx, s.childrenKey(key))
			}
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = d
		return nil
	}

	for range updateRetries {
		err := s.client.Watch(ctx, txf, tk)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case errors.Is(err, storage.ErrNotFound),
			errors.Is(err, storage.ErrDuplicateName),
			errors.Is(err, storage.ErrUnavailable),
			errors.Is(err, errSkip):
			return nil, err
		default:
			return nil, unavailable("update token", err)
		}
	}
	return nil, unavailable("update token", goredis.TxFailedErr)
}

func decodeToken(raw string) (*token.Data, error) {
	var d token.Data
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &d, nil
}
