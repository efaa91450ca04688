// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/olegiv/content-update-scheduler/internal/auth"
)

type contextKey string

const contextKeyActor contextKey = "actor"

// authenticate resolves the bearer API key to an actor.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			WriteUnauthorized(w, "Missing Authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			WriteUnauthorized(w, "Invalid Authorization header format. Use: Bearer <api_key>")
			return
		}

		actor, ok := h.keys.Lookup(strings.TrimSpace(parts[1]))
		if !ok {
			WriteUnauthorized(w, "Invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyActor, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFrom returns the authenticated actor of a request.
func ActorFrom(ctx context.Context) (auth.Actor, bool) {
	actor, ok := ctx.Value(contextKeyActor).(auth.Actor)
	return actor, ok
}
