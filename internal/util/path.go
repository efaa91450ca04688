// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package util

import (
	"fmt"
	"path/filepath"
	"strings"
)

// WithinBase reports an error when target resolves outside base.
func WithinBase(base, target string) error {
	absBase, err := filepath.Abs(filepath.Clean(base))
	if err != nil {
		return fmt.Errorf("invalid base path: %w", err)
	}
	absTarget, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		return fmt.Errorf("invalid target path: %w", err)
	}

	// Trailing separator so /uploads does not match /uploads-other.
	if absTarget != absBase && !strings.HasPrefix(absTarget, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes %q", target, base)
	}
	return nil
}

// JoinWithin joins parts under base and rejects results that escape it.
func JoinWithin(base string, parts ...string) (string, error) {
	full := filepath.Join(append([]string{base}, parts...)...)
	if err := WithinBase(base, full); err != nil {
		return "", err
	}
	return full, nil
}
