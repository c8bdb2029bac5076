// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import "github.com/quorumnet/core/metrics"

// sessionMetrics is the fixed set of counters/averagers a session
// wires into a metrics.Registry: per-RPC latency, AE event counts,
// and cache hit/miss counts. Every field defaults to a no-op
// implementation so WithMetricsRegistry is optional.
type sessionMetrics struct {
	queryLatency metrics.Averager
	cmdLatency   metrics.Averager
	aeRetries    metrics.Counter
	aeRedirects  metrics.Counter
	cacheHits    metrics.Counter
	cacheMisses  metrics.Counter
}

func defaultSessionMetrics() sessionMetrics {
	return sessionMetrics{
		queryLatency: noopAverager{},
		cmdLatency:   noopAverager{},
		aeRetries:    noopCounter{},
		aeRedirects:  noopCounter{},
		cacheHits:    noopCounter{},
		cacheMisses:  noopCounter{},
	}
}

func registryMetrics(reg metrics.Registry) sessionMetrics {
	return sessionMetrics{
		queryLatency: reg.NewAverager("session_query_latency_ms"),
		cmdLatency:   reg.NewAverager("session_cmd_latency_ms"),
		aeRetries:    reg.NewCounter("session_ae_retries"),
		aeRedirects:  reg.NewCounter("session_ae_redirects"),
		cacheHits:    reg.NewCounter("session_cache_hits"),
		cacheMisses:  reg.NewCounter("session_cache_misses"),
	}
}

type noopAverager struct{}

func (noopAverager) Observe(float64) {}
func (noopAverager) Read() float64   { return 0 }

type noopCounter struct{}

func (noopCounter) Inc()          {}
func (noopCounter) Add(int64)     {}
func (noopCounter) Read() int64   { return 0 }
