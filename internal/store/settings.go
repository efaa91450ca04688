// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Settings is the process-wide key/value settings record.
type Settings struct {
	db *sqlx.DB
	// mu serializes read-modify-write updates within this process.
	mu sync.Mutex
}

// NewSettings creates a settings store.
func NewSettings(db *sqlx.DB) *Settings {
	return &Settings{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func getSetting(ctx context.Context, q getter, key string) (string, bool, error) {
	var value string
	err := q.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("loading setting %s: %w", key, err)
	}
	return value, true, nil
}

func setSetting(ctx context.Context, e execer, key, value string) error {
	_, err := e.ExecContext(ctx, `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, key, value)
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

// Get returns a setting and whether it exists.
func (s *Settings) Get(ctx context.Context, key string) (string, bool, error) {
	return getSetting(ctx, s.db, key)
}

// Set creates or replaces a setting.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	return setSetting(ctx, s.db, key, value)
}

// SetMany writes several settings atomically.
func (s *Settings) SetMany(ctx context.Context, values map[string]string) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for key, value := range values {
			if err := setSetting(ctx, tx, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a setting. Missing keys are ignored.
func (s *Settings) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}

// Update applies fn to the current value of key inside a transaction.
// fn receives "" when the key does not exist. Extra settings returned in
// also are written in the same transaction.
func (s *Settings) Update(ctx context.Context, key string, fn func(current string) (next string, also map[string]string, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		current, _, err := getSetting(ctx, tx, key)
		if err != nil {
			return err
		}

		next, also, err := fn(current)
		if err != nil {
			return err
		}

		if err := setSetting(ctx, tx, key, next); err != nil {
			return err
		}
		for k, v := range also {
			if err := setSetting(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
