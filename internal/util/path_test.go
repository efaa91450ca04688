// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package util

import (
	"path/filepath"
	"testing"
)

func TestWithinBase(t *testing.T) {
	base := filepath.Join(t.TempDir(), "uploads")

	tests := []struct {
		name    string
		target  string
		wantErr bool
	}{
		{"same directory", base, false},
		{"subdirectory", filepath.Join(base, "builder", "css"), false},
		{"parent", filepath.Join(base, ".."), true},
		{"sibling", filepath.Join(base, "..", "config"), true},
		{"absolute outside", "/etc/passwd", true},
		{"similar prefix", base + "-other", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinBase(base, tt.target)
			if (err != nil) != tt.wantErr {
				t.Errorf("WithinBase(%q) error = %v, wantErr %v", tt.target, err, tt.wantErr)
			}
		})
	}
}

func TestJoinWithin(t *testing.T) {
	base := t.TempDir()

	got, err := JoinWithin(base, "builder", "css", "post-12.css")
	if err != nil {
		t.Fatalf("JoinWithin: %v", err)
	}
	if want := filepath.Join(base, "builder", "css", "post-12.css"); got != want {
		t.Errorf("JoinWithin = %q, want %q", got, want)
	}

	if _, err := JoinWithin(base, "..", "..", "etc", "passwd"); err == nil {
		t.Error("JoinWithin accepted a path escaping the base")
	}
}
