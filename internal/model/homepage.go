// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

// Site setting keys
const (
	SettingShowOnFront     = "show_on_front"
	SettingPageOnFront     = "page_on_front"
	SettingHomepageChanges = "cus_scheduled_homepage_changes"
	SettingPluginSettings  = "cus_settings"
)

// ShowOnFrontPage is the show_on_front value for a static front page.
const ShowOnFrontPage = "page"

// HomepageChange is a scheduled switch of the static front page.
type HomepageChange struct {
	PageID    int64 `json:"page_id"`
	Timestamp int64 `json:"timestamp"`
	CreatedAt int64 `json:"scheduled_at_created"`
}

// PendingState describes where a pending update stands relative to now.
type PendingState string

// Pending states
const (
	PendingScheduled PendingState = "scheduled"
	PendingOverdue   PendingState = "overdue"
	PendingUnarmed   PendingState = "unscheduled"
	PendingFiring    PendingState = "firing"
)

// PendingSummary is a listing row for a pending update.
type PendingSummary struct {
	ID            int64        `json:"id"`
	Title         string       `json:"title"`
	Type          string       `json:"type"`
	OriginalID    int64        `json:"original_id"`
	OriginalTitle string       `json:"original_title"`
	ScheduledAt   int64        `json:"scheduled_at"`
	KeepDates     bool         `json:"keep_dates"`
	State         PendingState `json:"state"`
}
