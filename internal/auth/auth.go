// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package auth resolves API keys to acting users and decides what an
// actor may do with a document.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/olegiv/content-update-scheduler/internal/config"
	"github.com/olegiv/content-update-scheduler/internal/model"
)

// RoleSystem is the role of timer and sweeper initiated work.
const RoleSystem = "system"

// Actor is the user on whose behalf an operation runs.
type Actor struct {
	UserID int64
	Role   string
}

// System is the actor used by timers, the sweeper and the CLI.
var System = Actor{Role: RoleSystem}

// IsAdmin reports whether the actor may manage site-wide settings.
func (a Actor) IsAdmin() bool {
	return a.Role == config.RoleAdmin || a.Role == RoleSystem
}

// Authorizer is the role policy.
type Authorizer struct{}

// CanEdit reports whether actor may edit doc.
// Admins and editors may edit anything, authors only their own documents.
func (Authorizer) CanEdit(actor Actor, doc *model.Document) bool {
	switch actor.Role {
	case RoleSystem, config.RoleAdmin, config.RoleEditor:
		return true
	case config.RoleAuthor:
		return doc != nil && doc.AuthorID == actor.UserID && actor.UserID > 0
	default:
		return false
	}
}

// CanManageHomepage reports whether actor may schedule front page changes.
func (Authorizer) CanManageHomepage(actor Actor) bool {
	return actor.IsAdmin()
}

// HashKey returns the hex SHA-256 of an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type keyEntry struct {
	hash  []byte
	actor Actor
}

// KeyRing maps API keys to actors. Only key hashes are kept in memory.
type KeyRing struct {
	entries []keyEntry
}

// NewKeyRing builds a key ring from configured keys.
func NewKeyRing(keys []config.APIKey) *KeyRing {
	r := &KeyRing{entries: make([]keyEntry, 0, len(keys))}
	for _, k := range keys {
		r.entries = append(r.entries, keyEntry{
			hash:  []byte(HashKey(k.Key)),
			actor: Actor{UserID: k.UserID, Role: k.Role},
		})
	}
	return r
}

// Lookup returns the actor for a raw key. Every entry is compared so the
// time taken does not depend on which key matched.
func (r *KeyRing) Lookup(raw string) (Actor, bool) {
	if raw == "" {
		return Actor{}, false
	}
	h := []byte(HashKey(raw))

	var (
		found Actor
		ok    bool
	)
	for _, e := range r.entries {
		if subtle.ConstantTimeCompare(h, e.hash) == 1 {
			found, ok = e.actor, true
		}
	}
	return found, ok
}

// Len returns the number of configured keys.
func (r *KeyRing) Len() int {
	return len(r.entries)
}
