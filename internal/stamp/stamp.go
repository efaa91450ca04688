// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package stamp turns wall-clock input in the site timezone into the UTC
// second-resolution instants stored on pending updates and homepage changes.
package stamp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olegiv/content-update-scheduler/internal/model"
)

// DefaultGrace is how far past-dated requests are pushed into the future.
const DefaultGrace = 5 * time.Minute

var (
	offsetPattern = regexp.MustCompile(`^(?:UTC|GMT)?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)
	clockPattern  = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	datePattern   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// LoadLocation resolves a site timezone setting: an IANA name, a fixed
// offset such as "+02:00" or "UTC-5". Legacy Etc/GMT names and anything
// unrecognised fall back to UTC.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "Etc/GMT") {
		return time.UTC
	}

	if m := offsetPattern.FindStringSubmatch(name); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes := 0
		if m[3] != "" {
			minutes, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || minutes > 59 {
			return time.UTC
		}
		offset := hours*3600 + minutes*60
		if m[1] == "-" {
			offset = -offset
		}
		if offset == 0 {
			return time.UTC
		}
		return time.FixedZone(fmt.Sprintf("%s%02d:%02d", m[1], hours, minutes), offset)
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrInvalidTimestamp, fmt.Sprintf(format, args...))
}

// parseClock parses "H:MM" or "HH:MM".
func parseClock(hhmm string) (hour, minute int, err error) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(hhmm))
	if m == nil {
		return 0, 0, invalid("time %q is not HH:MM", hhmm)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, invalid("time %q is out of range", hhmm)
	}
	return hour, minute, nil
}

// Validate checks ranges and calendar validity without building an instant.
func Validate(year, month, day int, hhmm string) error {
	if year < 1970 || year > 9999 {
		return invalid("year %d is out of range", year)
	}
	if month < 1 || month > 12 {
		return invalid("month %d is out of range", month)
	}
	if day < 1 || day > daysIn(year, time.Month(month)) {
		return invalid("day %d does not exist in %04d-%02d", day, year, month)
	}
	_, _, err := parseClock(hhmm)
	return err
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Normalizer converts site-local input to stored instants.
type Normalizer struct {
	loc   *time.Location
	grace time.Duration
	now   func() time.Time
}

// New creates a Normalizer for loc. A non-positive grace uses DefaultGrace.
func New(loc *time.Location, grace time.Duration) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Normalizer{loc: loc, grace: grace, now: time.Now}
}

// SetClock replaces the time source.
func (n *Normalizer) SetClock(now func() time.Time) {
	n.now = now
}

// Location returns the site timezone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize validates year, month, day and "HH:MM" in the site timezone
// and returns the UTC instant to store. Instants not after now become
// now plus the grace period.
func (n *Normalizer) Normalize(year, month, day int, hhmm string) (time.Time, error) {
	if err := Validate(year, month, day, hhmm); err != nil {
		return time.Time{}, err
	}
	hour, minute, _ := parseClock(hhmm)
	local := time.Date(year, time.Month(month), day, hour, minute, 0, 0, n.loc)
	return n.Clamp(local), nil
}

// ParseLocal normalizes a "YYYY-MM-DD" date and "HH:MM" time.
func (n *Normalizer) ParseLocal(date, hhmm string) (time.Time, error) {
	m := datePattern.FindStringSubmatch(strings.TrimSpace(date))
	if m == nil {
		return time.Time{}, invalid("date %q is not YYYY-MM-DD", date)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	return n.Normalize(year, month, day, hhmm)
}

// Clamp converts t to UTC seconds and applies the past-date policy.
func (n *Normalizer) Clamp(t time.Time) time.Time {
	now := n.now().UTC().Truncate(time.Second)
	t = t.UTC().Truncate(time.Second)
	if !t.After(now) {
		return now.Add(n.grace)
	}
	return t
}

// Format renders a stored unix stamp in the site timezone.
func (n *Normalizer) Format(unix int64) string {
	if unix <= 0 {
		return "Invalid date"
	}
	return time.Unix(unix, 0).In(n.loc).Format("2006-01-02 15:04 MST")
}
