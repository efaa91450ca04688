// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package lock provides short-lived mutual exclusion on top of the cache
// backend. A lock expires on its own after its TTL, so a crashed holder
// never blocks a key for longer than that.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/content-update-scheduler/internal/cache"
)

// ErrLocked is returned when another holder owns the key.
var ErrLocked = errors.New("lock held by another caller")

// DefaultTTL bounds how long a crashed holder can block a key.
const DefaultTTL = 5 * time.Minute

// Locker acquires named locks.
type Locker struct {
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Locker. A non-positive ttl uses DefaultTTL.
func New(c cache.Cache, ttl time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{cache: c, ttl: ttl, logger: logger}
}

// Release gives a lock back. It is safe to call more than once.
type Release func()

// Acquire takes the lock named key. It returns ErrLocked without waiting if
// the key is held.
func (l *Locker) Acquire(ctx context.Context, key string) (Release, error) {
	token := []byte(uuid.NewString())
	ok, err := l.cache.SetNX(ctx, "lock:"+key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The holder's context may already be done.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if _, err := l.cache.DeleteIfEquals(rctx, "lock:"+key, token); err != nil {
				l.logger.Warn("releasing lock", "key", key, "error", err)
			}
		})
	}, nil
}

// Held reports whether key is currently locked by anyone.
func (l *Locker) Held(ctx context.Context, key string) (bool, error) {
	return l.cache.Has(ctx, "lock:"+key)
}
