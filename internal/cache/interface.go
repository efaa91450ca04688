// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cache provides the transient key/value backend used for firing
// locks. Values expire after a TTL.
package cache

import (
	"context"
	"time"
)

// Cache defines the interface for cache implementations.
// All implementations must be thread-safe.
type Cache interface {
	// SetNX stores value only if key is absent or expired, atomically.
	// Reports whether the value was stored. A TTL of 0 uses the default.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// DeleteIfEquals removes key only while it still holds value, atomically.
	// Reports whether the key was removed.
	DeleteIfEquals(ctx context.Context, key string, value []byte) (bool, error)

	// Has checks if a key exists (and is not expired).
	Has(ctx context.Context, key string) (bool, error)

	// Close releases any resources held by the cache.
	Close() error
}

// Error represents an error type for cache operations.
type Error string

func (e Error) Error() string {
	return string(e)
}

// ErrCacheClosed indicates the cache has been closed.
const ErrCacheClosed Error = "cache closed"
