// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scanlite

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsOutcomeSynced  = "synced"
	metricsOutcomeFailed  = "failed"
	metricsOutcomeDropped = "dropped"
)

var (
	flushOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlite_flush_ops_total",
		Help: "Pending operations processed by flushes, by type and outcome.",
	}, []string{"op", "outcome"})

	flushRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanlite_flush_runs_total",
		Help: "Flush passes executed (shared callers count once).",
	})

	cancelledOpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanlite_queue_cancelled_total",
		Help: "Unsent upserts cancelled by a later delete.",
	})
)
