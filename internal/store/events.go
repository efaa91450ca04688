// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/olegiv/content-update-scheduler/internal/model"
)

// Events is the operator-visible event log.
type Events struct {
	db *sqlx.DB
}

// NewEvents creates an event log store.
func NewEvents(db *sqlx.DB) *Events {
	return &Events{db: db}
}

// Create appends an event.
func (e *Events) Create(ctx context.Context, ev model.Event) (int64, error) {
	if ev.Metadata == "" {
		ev.Metadata = "{}"
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = dbTime(ev.CreatedAt)

	res, err := e.db.NamedExecContext(ctx, `INSERT INTO events (level, category, message, user_id, metadata, created_at)
		VALUES (:level, :category, :message, :user_id, :metadata, :created_at)`, ev)
	if err != nil {
		return 0, fmt.Errorf("creating event: %w", err)
	}
	return res.LastInsertId()
}

// List returns the newest events first.
func (e *Events) List(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []model.Event
	err := e.db.SelectContext(ctx, &events, `SELECT id, level, category, message, user_id, metadata, created_at
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return events, nil
}
