// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds process-level Prometheus counters and histograms
// for the chain executor and worker loop. Kept to global, low-cardinality
// series only — no per-vCon labels — the same discipline the churn
// telemetry module uses for the rate limiter.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vcon_stage_duration_seconds",
		Help:    "Wall-clock duration of a single stage invocation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"chain", "stage"})

	StorageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vcon_storage_duration_seconds",
		Help:    "Wall-clock duration of a single storage save invocation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"chain", "storage"})

	ChainDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vcon_chain_duration_seconds",
		Help:    "Total wall-clock duration of one chain execution.",
		Buckets: prometheus.DefBuckets,
	}, []string{"chain"})

	ChainOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vcon_chain_outcomes_total",
		Help: "Chain execution outcomes by classification.",
	}, []string{"chain", "outcome"})

	DLQDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vcon_dlq_depth",
		Help: "Last-observed depth of a dead-letter queue.",
	}, []string{"queue"})

	WorkerPopTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vcon_worker_pop_timeouts_total",
		Help: "Number of blocking-pop cycles that returned without an item.",
	})
)

func init() {
	prometheus.MustRegister(StageDuration, StorageDuration, ChainDuration, ChainOutcomes, DLQDepth, WorkerPopTimeouts)
}

// ServeHTTP starts a dedicated /metrics endpoint in the background, mirroring
// the churn module's opt-in standalone server. Safe to call at most once per
// address; callers wanting to share an existing mux should register
// promhttp.Handler() themselves instead.
func ServeHTTP(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}

// ObserveOutcome records a chain outcome (success, filtered, failed).
func ObserveOutcome(chain, outcome string) {
	ChainOutcomes.WithLabelValues(chain, outcome).Inc()
}
