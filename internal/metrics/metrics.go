// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics exposes scheduler counters in Prometheus format.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cus"

// Swap and homepage results.
const (
	ResultMerged     = "merged"
	ResultRolledBack = "rolled_back"
	ResultRejected   = "rejected"
	ResultChanged    = "changed"
	ResultDropped    = "dropped"
)

// Metrics holds the scheduler collectors.
type Metrics struct {
	registry *prometheus.Registry

	swaps      *prometheus.CounterVec
	sweeps     prometheus.Counter
	sweepItems *prometheus.CounterVec
	homepage   *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Pending update firings by result.",
		}, []string{"result"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Overdue sweeps run.",
		}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Overdue pending updates handled by sweeps, by outcome.",
		}, []string{"outcome"}),
		homepage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "homepage_changes_total",
			Help:      "Homepage change firings by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.swaps, m.sweeps, m.sweepItems, m.homepage,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WatchTimers exports the number of armed timers as a gauge.
func (m *Metrics) WatchTimers(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "armed_timers",
		Help:      "Timers currently armed in this process.",
	}, func() float64 { return float64(count()) }))
}

// Swap records the result of a firing.
func (m *Metrics) Swap(result string) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(result).Inc()
}

// Sweep records one overdue sweep.
func (m *Metrics) Sweep(fired, failed, skipped int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepItems.WithLabelValues("fired").Add(float64(fired))
	m.sweepItems.WithLabelValues("failed").Add(float64(failed))
	m.sweepItems.WithLabelValues("skipped").Add(float64(skipped))
}

// HomepageChange records the result of a homepage firing.
func (m *Metrics) HomepageChange(result string) {
	if m == nil {
		return
	}
	m.homepage.WithLabelValues(result).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
