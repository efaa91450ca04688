// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package notify publishes scheduler events to external consumers.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventRepublishPublished = "republish.published"
	EventRepublishFailed    = "republish.failed"
	EventHomepageChanged    = "homepage.changed"
)

// Event is a notification about something the scheduler did.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType string, data any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// PublishedData is the payload of republish.published.
type PublishedData struct {
	PendingID  int64 `json:"pending_id"`
	OriginalID int64 `json:"original_id"`
}

// FailedData is the payload of republish.failed.
type FailedData struct {
	PendingID int64  `json:"pending_id"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// HomepageData is the payload of homepage.changed.
type HomepageData struct {
	PageID    int64 `json:"page_id"`
	Timestamp int64 `json:"timestamp"`
}
