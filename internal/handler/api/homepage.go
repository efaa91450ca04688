// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"encoding/json"
	"net/http"
)

// HomepageChangeRequest is the body of POST /homepage/changes.
type HomepageChangeRequest struct {
	PageID int64  `json:"page_id"`
	Date   string `json:"date"`
	Time   string `json:"time"`
}

// HomepageChangeResponse is a scheduled front page switch.
type HomepageChangeResponse struct {
	PageID         int64  `json:"page_id"`
	Timestamp      int64  `json:"timestamp"`
	TimestampLocal string `json:"timestamp_local"`
	CreatedAt      int64  `json:"created_at"`
}

// ScheduleHomepageChange handles POST /api/v1/homepage/changes
func (h *Handler) ScheduleHomepageChange(w http.ResponseWriter, r *http.Request) {
	var req HomepageChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}
	if req.PageID <= 0 {
		WriteBadRequest(w, "Invalid page_id", map[string]string{"page_id": "must be a positive integer"})
		return
	}

	at, err := h.p.Normalizer.ParseLocal(req.Date, req.Time)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	change, err := h.p.Homepage.Schedule(r.Context(), actor, req.PageID, at)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	WriteCreated(w, HomepageChangeResponse{
		PageID:         change.PageID,
		Timestamp:      change.Timestamp,
		TimestampLocal: h.p.Normalizer.Format(change.Timestamp),
		CreatedAt:      change.CreatedAt,
	})
}

// CancelHomepageChange handles DELETE /api/v1/homepage/changes/{page_id}/{timestamp}
func (h *Handler) CancelHomepageChange(w http.ResponseWriter, r *http.Request) {
	pageID, ok := requireID(w, r, "page_id")
	if !ok {
		return
	}
	ts, ok := requireID(w, r, "timestamp")
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	if err := h.p.Homepage.Cancel(r.Context(), actor, pageID, ts); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListHomepageChanges handles GET /api/v1/homepage/changes
func (h *Handler) ListHomepageChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := h.p.Homepage.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]HomepageChangeResponse, 0, len(changes))
	for _, c := range changes {
		out = append(out, HomepageChangeResponse{
			PageID:         c.PageID,
			Timestamp:      c.Timestamp,
			TimestampLocal: h.p.Normalizer.Format(c.Timestamp),
			CreatedAt:      c.CreatedAt,
		})
	}
	WriteSuccess(w, out)
}
