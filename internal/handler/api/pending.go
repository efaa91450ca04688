// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/republish"
)

// PendingResponse identifies a pending update and its original.
type PendingResponse struct {
	ID         int64 `json:"id"`
	OriginalID int64 `json:"original_id"`
}

// ScheduleRequest is the body of PUT /pending/{id}/schedule.
// Date is "YYYY-MM-DD" and Time "HH:MM" in the site timezone.
type ScheduleRequest struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	KeepDates bool   `json:"keep_dates"`
}

// ScheduleResponse reports the instant actually stored.
type ScheduleResponse struct {
	ID               int64  `json:"id"`
	ScheduledAt      int64  `json:"scheduled_at"`
	ScheduledAtLocal string `json:"scheduled_at_local"`
	KeepDates        bool   `json:"keep_dates"`
}

// NextUpdateResponse is the body of GET /documents/{id}/next-update.
type NextUpdateResponse struct {
	OriginalID      int64  `json:"original_id"`
	NextUpdate      int64  `json:"next_update"`
	NextUpdateLocal string `json:"next_update_local,omitempty"`
}

// CreatePending handles POST /api/v1/documents/{id}/pending
func (h *Handler) CreatePending(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	pendingID, err := h.p.Store.Create(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteCreated(w, PendingResponse{ID: pendingID, OriginalID: id})
}

// Reschedule handles PUT /api/v1/pending/{id}/schedule
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r, "id")
	if !ok {
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}

	at, err := h.p.Normalizer.ParseLocal(req.Date, req.Time)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	stored, err := h.p.Store.Reschedule(r.Context(), actor, id, at, req.KeepDates)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	WriteSuccess(w, ScheduleResponse{
		ID:               id,
		ScheduledAt:      stored.Unix(),
		ScheduledAtLocal: h.p.Normalizer.Format(stored.Unix()),
		KeepDates:        req.KeepDates,
	})
}

// CancelPending handles DELETE /api/v1/pending/{id}
func (h *Handler) CancelPending(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r, "id")
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.p.Store.Cancel(r.Context(), actor, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /api/v1/pending/{id}/publish
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r, "id")
	if !ok {
		return
	}
	if !h.limiter.allow(id) {
		WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Publish requested too often. Please slow down.", nil)
		return
	}
	actor, _ := ActorFrom(r.Context())

	origID, err := h.p.Engine.FireNow(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	WriteSuccess(w, PendingResponse{ID: id, OriginalID: origID})
}

// ListPending handles GET /api/v1/pending
// Query: original_id, limit.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	var f republish.ListFilter
	q := r.URL.Query()
	if s := q.Get("original_id"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v <= 0 {
			WriteBadRequest(w, "Invalid original_id", nil)
			return
		}
		f.OriginalID = v
	}
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			WriteBadRequest(w, "Invalid limit", nil)
			return
		}
		f.Limit = v
	}

	list, err := h.p.Store.List(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []model.PendingSummary{}
	}
	WriteSuccess(w, list)
}

// NextUpdate handles GET /api/v1/documents/{id}/next-update
func (h *Handler) NextUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r, "id")
	if !ok {
		return
	}

	next, err := h.p.Store.NextScheduledFor(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := NextUpdateResponse{OriginalID: id, NextUpdate: next}
	if next > 0 {
		resp.NextUpdateLocal = h.p.Normalizer.Format(next)
	}
	WriteSuccess(w, resp)
}
