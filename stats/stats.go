// Package stats is the prometheus collector registry shared by overlay,
// scratchpad, and housekeeping: each owns a small set of named
// counters/gauges registered once at construction and updated from its own
// hot path, the same registration shape as aistore's stats/target_stats.go
// (a naming convention plus a flat set of counters updated in place, here
// backed directly by client_golang instead of aistore's home-grown
// core+StatsD layer, since this module has no StatsD requirement to carry
// forward).
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import "github.com/prometheus/client_golang/prometheus"

// Registry is a broker-scope collector set. The zero value is not usable;
// construct with NewRegistry.
type Registry struct {
	reg *prometheus.Registry

	// overlay
	MonitorRequests prometheus.Counter
	ChildConnected  *prometheus.GaugeVec // labeled by rank
	ChildIdle       *prometheus.GaugeVec // labeled by rank

	// scratchpad
	ScratchpadLL       prometheus.Counter
	ScratchpadSC       prometheus.Counter
	ScratchpadSCStream prometheus.Counter
	ScratchpadSCRetry  prometheus.Counter
	ScratchpadDelete   prometheus.Counter
	ScratchpadConflict prometheus.Counter

	// housekeeping
	HKFreeCount    prometheus.Counter
	HKInFlight     prometheus.Gauge
	HKScriptErrors prometheus.Counter

	// reactor
	ReactorPendingWatchers prometheus.Gauge
}

// NewRegistry builds a fresh collector set registered against its own
// *prometheus.Registry (never the global default, so multiple brokers in
// one test binary don't collide on metric names).
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{reg: reg}

	r.MonitorRequests = newCounter(reg, namespace, "overlay", "monitor_requests_total",
		"Total overlay.monitor RPCs served.")
	r.ChildConnected = newGaugeVec(reg, namespace, "overlay", "child_connected",
		"Whether a child rank is currently connected (1) or not (0).", "rank")
	r.ChildIdle = newGaugeVec(reg, namespace, "overlay", "child_idle",
		"Whether a child rank is currently idle (1) or not (0).", "rank")

	r.ScratchpadLL = newCounter(reg, namespace, "scratchpad", "ll_total", "Total LL requests served.")
	r.ScratchpadSC = newCounter(reg, namespace, "scratchpad", "sc_total", "Total SC requests served.")
	r.ScratchpadSCStream = newCounter(reg, namespace, "scratchpad", "sc_stream_total",
		"Total SC-stream requests served.")
	r.ScratchpadSCRetry = newCounter(reg, namespace, "scratchpad", "sc_retry_total",
		"Total SC-retry requests served.")
	r.ScratchpadDelete = newCounter(reg, namespace, "scratchpad", "delete_total", "Total delete requests served.")
	r.ScratchpadConflict = newCounter(reg, namespace, "scratchpad", "version_conflicts_total",
		"Total SC requests rejected for a stale version.")

	r.HKFreeCount = newCounter(reg, namespace, "housekeeping", "free_total",
		"Total free requests sent to the scheduler.")
	r.HKInFlight = newGauge(reg, namespace, "housekeeping", "scripts_in_flight",
		"Number of housekeeping scripts currently running.")
	r.HKScriptErrors = newCounter(reg, namespace, "housekeeping", "script_errors_total",
		"Total housekeeping scripts that exited nonzero or by signal.")

	r.ReactorPendingWatchers = newGauge(reg, namespace, "reactor", "pending_watchers",
		"Number of watchers both active and referenced.")

	return r
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func newCounter(reg *prometheus.Registry, ns, sub, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help})
	reg.MustRegister(c)
	return c
}

func newGauge(reg *prometheus.Registry, ns, sub, name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help})
	reg.MustRegister(g)
	return g
}

func newGaugeVec(reg *prometheus.Registry, ns, sub, name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help}, labels)
	reg.MustRegister(g)
	return g
}
