// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/tokengate/pkg/storage"
	"github.com/stacklok/tokengate/pkg/token"
)

// DefaultSweepInterval is how often ExpirySweeper looks for lapsed tokens.
const DefaultSweepInterval = 10 * time.Minute

const sweepBatch = 500

// TokenGetter looks up live tokens.
type TokenGetter interface {
	GetToken(ctx context.Context, key string) (*token.Data, error)
}

// ExpirySweeper records expire events for tokens that reached their
// expiry without being revoked.
type ExpirySweeper struct {
	store    Store
	tokens   TokenGetter
	recorder Recorder
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewExpirySweeper creates a sweeper. A non-positive interval uses
// DefaultSweepInterval.
func NewExpirySweeper(store Store, tokens TokenGetter, recorder Recorder, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweeper{
		store:    store,
		tokens:   tokens,
		recorder: recorder,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.WarnContext(ctx, "expiry sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.DebugContext(ctx, "expiry sweep finished", "expired", n)
			}
		}
	}
}

// Sweep records an expire event for every lapsed token that is no longer
// in the token store and returns how many were recorded.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	lapsed, err := s.store.Lapsed(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, last := range lapsed {
		_, err := s.tokens.GetToken(ctx, last.Key)
		switch {
		case err == nil:
			// Still live; its expiry was extended elsewhere.
			continue
		case errors.Is(err, storage.ErrNotFound):
		default:
			return n, err
		}

		event := last
		event.ID = uuid.New()
		event.Action = ActionExpire
		event.Actor = last.Username
		event.OldName = ""
		event.OldScopes = nil
		event.OldExpires = nil
		event.IPAddress = ""
		event.Time = now
		if last.Expires != nil {
			event.Time = last.Expires.UTC()
		}
		if err := s.recorder.Record(ctx, event); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
