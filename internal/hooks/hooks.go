// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package hooks provides a registry of named action and filter handlers.
// Timers dispatch through it, and components are wired to each other by
// registering handlers instead of calling one another directly.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Hook names.
const (
	// PublishPost fires a pending update. Data: Args{pendingID}.
	PublishPost = "publish_post"
	// CheckOverdue runs the overdue sweep. Data: nil.
	CheckOverdue = "check_overdue"
	// ChangeHomepage switches the front page. Data: Args{pageID, timestamp}
	// or the legacy Args{pageID}.
	ChangeHomepage = "change_homepage"

	// TransitionStatus filters a *model.StatusTransition.
	TransitionStatus = "transition_status"
	// Trashed and Untrashed carry the *model.Document after the change.
	Trashed   = "trashed"
	Untrashed = "untrashed"

	// CreatePublishingPost carries a PublishEvent after a pending copy is created.
	CreatePublishingPost = "create_publishing_post"
	// BeforePublish and AfterPublish carry a PublishEvent around a swap.
	BeforePublish = "before_publish"
	AfterPublish  = "after_publish"
	// PublishDate filters a *republish.PublishDateRequest carrying the date
	// a swapped document is stamped with.
	PublishDate = "publish_post_date"
)

// Args are the integer arguments a timer was armed with.
type Args []int64

// PublishEvent identifies the two documents involved in a swap.
type PublishEvent struct {
	PendingID  int64
	OriginalID int64
}

// Func is a function that can be registered as a hook handler.
// It receives a context and data, and returns modified data and an error.
// If the hook returns an error, subsequent hooks are not called.
type Func func(ctx context.Context, data any) (any, error)

// Handler wraps a Func with metadata.
type Handler struct {
	Name     string // Name of the handler for debugging
	Owner    string // Component that registered the handler
	Priority int    // Lower priority runs first (default: 0)
	Fn       Func
}

// Caller runs the handlers registered for a hook.
type Caller interface {
	Call(ctx context.Context, hook string, data any) (any, error)
	Do(ctx context.Context, hook string, data any) error
}

// Registry manages hook registration and execution.
type Registry struct {
	hooks  map[string][]Handler
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		hooks:  make(map[string][]Handler),
		logger: logger,
	}
}

// Register adds a handler for the given hook name.
func (r *Registry) Register(hook string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers := append(r.hooks[hook], handler)
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].Priority < handlers[j].Priority
	})
	r.hooks[hook] = handlers

	r.logger.Debug("hook registered",
		"hook", hook,
		"handler", handler.Name,
		"owner", handler.Owner,
		"priority", handler.Priority,
	)
}

// RegisterFunc is a convenience method to register a handler with default priority.
func (r *Registry) RegisterFunc(hook, name, owner string, fn Func) {
	r.Register(hook, Handler{Name: name, Owner: owner, Fn: fn})
}

// Call executes all handlers for the given hook in priority order.
// The data is passed through each handler, allowing modification.
// If any handler returns an error, execution stops and the error is returned.
func (r *Registry) Call(ctx context.Context, hook string, data any) (any, error) {
	r.mu.RLock()
	handlers := r.hooks[hook]
	r.mu.RUnlock()

	if len(handlers) == 0 {
		return data, nil
	}

	r.logger.Debug("calling hooks", "hook", hook, "handlers", len(handlers))

	current := data
	for _, handler := range handlers {
		result, err := handler.Fn(ctx, current)
		if err != nil {
			r.logger.Error("hook handler error",
				"hook", hook,
				"handler", handler.Name,
				"owner", handler.Owner,
				"error", err,
			)
			return nil, fmt.Errorf("hook %s handler %s: %w", hook, handler.Name, err)
		}
		current = result
	}

	return current, nil
}

// Do executes an action hook, discarding the result.
func (r *Registry) Do(ctx context.Context, hook string, data any) error {
	_, err := r.Call(ctx, hook, data)
	return err
}

// HandlerCount returns the number of handlers registered for a hook.
func (r *Registry) HandlerCount(hook string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.hooks[hook])
}

// filterByOwner returns handlers that don't belong to the given owner.
func filterByOwner(handlers []Handler, owner string) []Handler {
	result := make([]Handler, 0, len(handlers))
	for _, handler := range handlers {
		if handler.Owner != owner {
			result = append(result, handler)
		}
	}
	return result
}

// UnregisterAll removes all handlers registered by an owner.
func (r *Registry) UnregisterAll(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hook, handlers := range r.hooks {
		r.hooks[hook] = filterByOwner(handlers, owner)
	}

	r.logger.Debug("all hooks unregistered for owner", "owner", owner)
}

var _ Caller = (*Registry)(nil)
