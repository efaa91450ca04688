// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package model defines domain models and types used throughout the application.
package model

import (
	"strconv"
	"time"
)

// Document statuses
const (
	StatusPublish          = "publish"
	StatusDraft            = "draft"
	StatusPending          = "pending"
	StatusPrivate          = "private"
	StatusFuture           = "future"
	StatusTrash            = "trash"
	StatusPendingRepublish = "pending-republish"
)

// Document types
const (
	TypePost    = "post"
	TypePage    = "page"
	TypeProduct = "product"
	TypeVariant = "product_variation"
)

// Scheduling attribute keys stored on a pending update.
const (
	AttrOriginalID        = "original_id"
	AttrScheduledAt       = "scheduled_at"
	AttrKeepOriginalDates = "keep_original_dates"
	// AttrSwappedFrom is written on the original once its fields have been
	// persisted during a swap, and removed when cleanup finishes.
	AttrSwappedFrom = "swapped_from"
)

// Commerce attribute keys that always stay with the original document.
const (
	AttrStockStatus   = "_stock_status"
	AttrStockQuantity = "_stock"
	AttrManageStock   = "_manage_stock"
)

// SchedulingAttrs lists attributes never inherited by a copy or left on an original.
var SchedulingAttrs = []string{AttrOriginalID, AttrScheduledAt, AttrKeepOriginalDates}

// IsSchedulingAttr reports whether key is one of the scheduling attributes.
func IsSchedulingAttr(key string) bool {
	for _, k := range SchedulingAttrs {
		if k == key {
			return true
		}
	}
	return key == AttrSwappedFrom
}

// Document is a content item in the document store.
type Document struct {
	ID            int64     `db:"id" json:"id"`
	Type          string    `db:"type" json:"type"`
	Title         string    `db:"title" json:"title"`
	Body          string    `db:"body" json:"body"`
	Summary       string    `db:"summary" json:"summary"`
	Slug          string    `db:"slug" json:"slug"`
	ParentID      int64     `db:"parent_id" json:"parent_id"`
	GUID          string    `db:"guid" json:"guid"`
	Status        string    `db:"status" json:"status"`
	AuthorID      int64     `db:"author_id" json:"author_id"`
	MenuOrder     int       `db:"menu_order" json:"menu_order"`
	CommentStatus string    `db:"comment_status" json:"comment_status"`
	Password      string    `db:"password" json:"-"`
	TrashedStatus string    `db:"trashed_status" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	ModifiedAt    time.Time `db:"modified_at" json:"modified_at"`
}

// IsPendingUpdate returns true if the document is a pending update.
func (d *Document) IsPendingUpdate() bool {
	return d.Status == StatusPendingRepublish
}

// IsTrashed returns true if the document is in the trash.
func (d *Document) IsTrashed() bool {
	return d.Status == StatusTrash
}

// Attributes is the key/value attribute map of a document.
type Attributes map[string]string

// Int64 parses an integer attribute. Missing or malformed values yield 0.
func (a Attributes) Int64(key string) int64 {
	v, err := strconv.ParseInt(a[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Has reports whether the key is present.
func (a Attributes) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Clone returns a copy of the map.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// StatusTransition is passed through the status transition filter whenever a
// document changes status. Handlers may rewrite NewStatus.
type StatusTransition struct {
	Document  *Document
	OldStatus string
	NewStatus string
}
