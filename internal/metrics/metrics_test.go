// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Swap(ResultMerged)
	m.Swap(ResultMerged)
	m.Swap(ResultRolledBack)
	m.Sweep(3, 1, 0)
	m.HomepageChange(ResultChanged)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.swaps.WithLabelValues(ResultMerged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.swaps.WithLabelValues(ResultRolledBack)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweeps))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepItems.WithLabelValues("fired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.homepage.WithLabelValues(ResultChanged)))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Swap(ResultMerged)
		m.Sweep(1, 0, 0)
		m.HomepageChange(ResultDropped)
		m.WatchTimers(func() int { return 1 })
	})
}

func TestHandlerExposesArmedTimers(t *testing.T) {
	m := New()
	m.WatchTimers(func() int { return 4 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cus_armed_timers 4")
}
