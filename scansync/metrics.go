// Copyright 2026 The draconis-eyes Authors
// SPDX-License-Identifier: Apache-2.0

package scansync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsResultCreated  = "created"
	MetricsResultUpdated  = "updated"
	MetricsResultDeleted  = "deleted"
	MetricsResultNotFound = "not_found"
	MetricsResultInvalid  = "invalid"
	MetricsResultError    = "error"
)

var (
	upsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scansync",
			Name:      "upserts_total",
			Help:      "Scan upserts by outcome.",
		},
		[]string{"result"},
	)

	deletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scansync",
			Name:      "deletes_total",
			Help:      "Scan deletes by outcome.",
		},
		[]string{"result"},
	)

	storeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scansync",
			Name:      "store_duration_seconds",
			Help:      "Latency of document store calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)
