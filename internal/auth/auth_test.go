// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/olegiv/content-update-scheduler/internal/config"
	"github.com/olegiv/content-update-scheduler/internal/model"
)

func TestCanEdit(t *testing.T) {
	doc := &model.Document{ID: 1, AuthorID: 7}
	var a Authorizer

	tests := []struct {
		name  string
		actor Actor
		want  bool
	}{
		{"admin", Actor{UserID: 1, Role: config.RoleAdmin}, true},
		{"editor", Actor{UserID: 2, Role: config.RoleEditor}, true},
		{"author own", Actor{UserID: 7, Role: config.RoleAuthor}, true},
		{"author other", Actor{UserID: 8, Role: config.RoleAuthor}, false},
		{"author without id", Actor{Role: config.RoleAuthor}, false},
		{"viewer", Actor{UserID: 7, Role: config.RoleViewer}, false},
		{"system", System, true},
		{"unknown role", Actor{UserID: 7, Role: "guest"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.CanEdit(tt.actor, doc))
		})
	}
}

func TestCanManageHomepage(t *testing.T) {
	var a Authorizer
	assert.True(t, a.CanManageHomepage(Actor{UserID: 1, Role: config.RoleAdmin}))
	assert.True(t, a.CanManageHomepage(System))
	assert.False(t, a.CanManageHomepage(Actor{UserID: 1, Role: config.RoleEditor}))
}

func TestKeyRingLookup(t *testing.T) {
	ring := NewKeyRing([]config.APIKey{
		{Key: "editor-key-0123456789", Role: config.RoleEditor, UserID: 3},
		{Key: "admin-key-0123456789", Role: config.RoleAdmin, UserID: 1},
	})
	assert.Equal(t, 2, ring.Len())

	actor, ok := ring.Lookup("admin-key-0123456789")
	assert.True(t, ok)
	assert.Equal(t, Actor{UserID: 1, Role: config.RoleAdmin}, actor)

	_, ok = ring.Lookup("nope")
	assert.False(t, ok)
	_, ok = ring.Lookup("")
	assert.False(t, ok)
}

func TestHashKey(t *testing.T) {
	assert.Len(t, HashKey("x"), 64)
	assert.Equal(t, HashKey("abc"), HashKey("abc"))
	assert.NotEqual(t, HashKey("abc"), HashKey("abd"))
}
