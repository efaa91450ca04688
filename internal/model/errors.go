// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTimestamp is returned for malformed date/time input.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrNotFound is returned when a pending update or document is missing.
	ErrNotFound = errors.New("not found")
	// ErrNoOriginal is returned when a pending update's original cannot be resolved.
	ErrNoOriginal = fmt.Errorf("original document: %w", ErrNotFound)
	// ErrAlreadyInProgress is returned when another caller holds the firing lock.
	ErrAlreadyInProgress = errors.New("publish already in progress")
	// ErrSwapFailed is returned when persisting a swap failed and was rolled back.
	ErrSwapFailed = errors.New("swap failed")
	// ErrPermissionDenied is returned when the caller may not act on a document.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrExcludedType is returned for document types excluded from scheduling.
	ErrExcludedType = errors.New("document type excluded from scheduling")
)

// Error kinds reported to API callers.
const (
	KindInvalidTimestamp  = "invalid_timestamp"
	KindNoOriginal        = "no_original"
	KindNotFound          = "not_found"
	KindAlreadyInProgress = "already_in_progress"
	KindSwapFailed        = "swap_failed"
	KindPermissionDenied  = "permission_denied"
	KindExcludedType      = "excluded_type"
	KindInternal          = "internal_error"
)

// ErrorKind maps an error to its stable kind string.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTimestamp):
		return KindInvalidTimestamp
	case errors.Is(err, ErrNoOriginal):
		return KindNoOriginal
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyInProgress):
		return KindAlreadyInProgress
	case errors.Is(err, ErrSwapFailed):
		return KindSwapFailed
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrExcludedType):
		return KindExcludedType
	default:
		return KindInternal
	}
}
