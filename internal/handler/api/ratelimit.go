// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiters bounds the limiter cache before it is reset.
const maxLimiters = 10000

// limiterCache holds one limiter per key with double-check locking.
type limiterCache[K comparable] struct {
	limiters map[K]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
}

// newLimiterCache allows one event per interval for each key.
func newLimiterCache[K comparable](interval time.Duration) *limiterCache[K] {
	return &limiterCache[K]{
		limiters: make(map[K]*rate.Limiter),
		rate:     rate.Every(interval),
	}
}

// get returns the limiter of key, creating one if needed.
func (lc *limiterCache[K]) get(key K) *rate.Limiter {
	lc.mu.RLock()
	limiter, exists := lc.limiters[key]
	lc.mu.RUnlock()

	if exists {
		return limiter
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if limiter, exists = lc.limiters[key]; exists {
		return limiter
	}
	if len(lc.limiters) >= maxLimiters {
		lc.limiters = make(map[K]*rate.Limiter)
	}

	limiter = rate.NewLimiter(lc.rate, 1)
	lc.limiters[key] = limiter
	return limiter
}

// allow reports whether key may proceed now. A nil cache allows everything.
func (lc *limiterCache[K]) allow(key K) bool {
	if lc == nil {
		return true
	}
	return lc.get(key).Allow()
}
