// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api provides the REST API of the scheduler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/olegiv/content-update-scheduler/internal/auth"
	"github.com/olegiv/content-update-scheduler/internal/metrics"
	"github.com/olegiv/content-update-scheduler/internal/model"
	"github.com/olegiv/content-update-scheduler/internal/plugin"
)

// Options configure the API handler.
type Options struct {
	Keys *auth.KeyRing
	// PublishRate is the minimum interval between manual publishes of the
	// same pending update. Zero disables the limit.
	PublishRate time.Duration
	Metrics     *metrics.Metrics
	// Health reports backend readiness for /healthz. Nil means always healthy.
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

// Handler holds shared dependencies for all API handlers.
type Handler struct {
	p       *plugin.Plugin
	keys    *auth.KeyRing
	limiter *limiterCache[int64]
	metrics *metrics.Metrics
	health  func(ctx context.Context) error
	logger  *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(p *plugin.Plugin, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keys := opts.Keys
	if keys == nil {
		keys = auth.NewKeyRing(nil)
	}
	h := &Handler{
		p:       p,
		keys:    keys,
		metrics: opts.Metrics,
		health:  opts.Health,
		logger:  logger,
	}
	if opts.PublishRate > 0 {
		h.limiter = newLimiterCache[int64](opts.PublishRate)
	}
	return h
}

// Router returns the HTTP handler serving every route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/documents/{id}/pending", h.CreatePending)
		r.Get("/documents/{id}/next-update", h.NextUpdate)

		r.Get("/pending", h.ListPending)
		r.Put("/pending/{id}/schedule", h.Reschedule)
		r.Delete("/pending/{id}", h.CancelPending)
		r.Post("/pending/{id}/publish", h.Publish)

		r.Get("/homepage/changes", h.ListHomepageChanges)
		r.Post("/homepage/changes", h.ScheduleHomepageChange)
		r.Delete("/homepage/changes/{page_id}/{timestamp}", h.CancelHomepageChange)
	})
	return r
}

// Response is the standard API response wrapper.
type Response struct {
	Data any `json:"data"`
}

// ErrorResponse is the standard API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{Data: data})
}

// WriteCreated writes a 201 Created JSON response.
func WriteCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, Response{Data: data})
}

// WriteError writes an error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details map[string]string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: ErrorDetail{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// WriteBadRequest writes a 400 Bad Request response.
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message, details)
}

// WriteUnauthorized writes a 401 Unauthorized response.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message, nil)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case model.KindInvalidTimestamp, model.KindExcludedType:
		return http.StatusUnprocessableEntity
	case model.KindNotFound, model.KindNoOriginal:
		return http.StatusNotFound
	case model.KindAlreadyInProgress:
		return http.StatusConflict
	case model.KindPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError reports err under its error kind. Internal errors are
// logged and their text is not exposed.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.ErrorKind(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.logger.Error("api request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()), "error", err)
		message := "Internal server error"
		if errors.Is(err, model.ErrSwapFailed) {
			message = "Publishing failed and was rolled back"
		}
		WriteError(w, status, kind, message, nil)
		return
	}
	WriteError(w, status, kind, err.Error(), nil)
}

// parseIDParam reads a positive integer URL parameter.
func parseIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

// requireID parses a URL parameter, writing a 400 on failure.
func requireID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := parseIDParam(r, name)
	if err != nil {
		WriteBadRequest(w, "Invalid "+name, map[string]string{name: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Timers int    `json:"timers"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			WriteError(w, http.StatusServiceUnavailable, "unavailable", "Backend unavailable", nil)
			return
		}
	}
	WriteSuccess(w, HealthResponse{Status: "ok", Timers: h.p.Timers.Count()})
}
