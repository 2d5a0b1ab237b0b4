//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus-compatible instrumentation for graph
// execution. All series are namespaced "langgraph". Queue depth is labeled
// by thread_id, step latency by node_id and status, retries by node_id and
// reason, interrupts by reason, merge conflicts by channel, and forks by
// source.
//
// A nil *Metrics is always safe to call methods on: every method is a
// no-op when the receiver is nil, so an Executor built without
// WithMetrics pays no instrumentation cost.
type Metrics struct {
	queueDepth *prometheus.GaugeVec

	stepLatency *prometheus.HistogramVec

	retries        *prometheus.CounterVec
	interrupts     *prometheus.CounterVec
	mergeConflicts *prometheus.CounterVec
	forks          *prometheus.CounterVec
}

// NewMetrics creates and registers the graph execution metrics with
// registry. Pass prometheus.DefaultRegisterer to use the global registry,
// or a dedicated prometheus.NewRegistry() to isolate this executor's
// series (recommended when more than one Executor shares a process).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "langgraph",
			Name:      "queue_depth",
			Help:      "Number of tasks runnable at the start of a superstep.",
		}, []string{"thread_id"}),

		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "langgraph",
			Name:      "step_latency_ms",
			Help:      "Task execution duration in milliseconds, from dispatch to completion.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}), // status: success, error, interrupt

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "langgraph",
			Name:      "retries_total",
			Help:      "Cumulative count of node retry attempts.",
		}, []string{"node_id", "reason"}),

		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "langgraph",
			Name:      "interrupts_total",
			Help:      "Graph runs that paused on an interrupt.",
		}, []string{"reason"}), // reason: dynamic, static, external

		mergeConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "langgraph",
			Name:      "merge_conflicts_total",
			Help:      "Channel update rejections during applyWrites (a reducer refused a concurrent write).",
		}, []string{"channel"}),

		forks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "langgraph",
			Name:      "checkpoint_forks_total",
			Help:      "Checkpoints created by branching off an existing checkpoint instead of continuing the loop.",
		}, []string{"source"}), // source: edit_state
	}
}

// SetQueueDepth records how many tasks prepareNextTasks selected for the
// superstep just starting on threadID.
func (m *Metrics) SetQueueDepth(threadID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(threadID).Set(float64(depth))
}

// ObserveStepLatency records a single task's execution duration.
func (m *Metrics) ObserveStepLatency(nodeID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(d.Milliseconds()))
}

// IncrementRetries records one retry attempt for nodeID.
func (m *Metrics) IncrementRetries(nodeID, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(nodeID, reason).Inc()
}

// IncrementInterrupts records a run pausing on an interrupt.
func (m *Metrics) IncrementInterrupts(reason string) {
	if m == nil {
		return
	}
	m.interrupts.WithLabelValues(reason).Inc()
}

// IncrementMergeConflicts records a channel rejecting a concurrent write
// during applyWrites.
func (m *Metrics) IncrementMergeConflicts(channel string) {
	if m == nil {
		return
	}
	m.mergeConflicts.WithLabelValues(channel).Inc()
}

// IncrementForks records a new checkpoint branching off an existing one
// (e.g. TimeTravel.EditState) rather than being written by the loop.
func (m *Metrics) IncrementForks(source string) {
	if m == nil {
		return
	}
	m.forks.WithLabelValues(source).Inc()
}
