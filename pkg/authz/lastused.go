// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authz

import (
	"context"
	"log/slog"
	"time"
)

// DefaultLastUsedQueueSize bounds the pending last-used updates.
const DefaultLastUsedQueueSize = 1024

// LastUsedStore is the part of the token store the updater writes to.
type LastUsedStore interface {
	UpdateLastUsed(ctx context.Context, key string, at time.Time) error
}

type lastUse struct {
	key string
	at  time.Time
}

// LastUsedUpdater writes token last-used times from a bounded queue so
// that authorization responses never wait on the write.
type LastUsedUpdater struct {
	store  LastUsedStore
	queue  chan lastUse
	logger *slog.Logger
}

// NewLastUsedUpdater creates an updater with room for size pending
// updates. Run must be started for updates to be written.
func NewLastUsedUpdater(store LastUsedStore, size int, logger *slog.Logger) *LastUsedUpdater {
	if size <= 0 {
		size = DefaultLastUsedQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LastUsedUpdater{
		store:  store,
		queue:  make(chan lastUse, size),
		logger: logger,
	}
}

// Enqueue schedules an update and reports whether it was accepted. When
// the queue is full the update is dropped.
func (u *LastUsedUpdater) Enqueue(key string, at time.Time) bool {
	if u == nil {
		return false
	}
	select {
	case u.queue <- lastUse{key: key, at: at}:
		return true
	default:
		u.logger.Debug("last-used queue full, dropping update", "token", key)
		return false
	}
}

// Run writes queued updates until ctx is done.
func (u *LastUsedUpdater) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-u.queue:
			if err := u.store.UpdateLastUsed(ctx, item.key, item.at); err != nil {
				u.logger.Debug("failed to update token last-used time", "token", item.key, "error", err)
			}
		}
	}
}
