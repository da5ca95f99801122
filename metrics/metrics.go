// Package metrics exposes the process counters served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestTotal counts ingestion attempts by ingress channel and outcome.
	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrinostore_ingest_total",
		Help: "Ingestion attempts by source channel and outcome.",
	}, []string{"source", "outcome"})

	// LimiterRejections counts outbound calls rejected by the rate limiter.
	LimiterRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrinostore_rate_limit_rejections_total",
		Help: "Acquisitions rejected after exceeding the limiter max wait.",
	}, []string{"scope"})

	// BlobRequests counts remote platform calls by method and outcome.
	BlobRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrinostore_blob_requests_total",
		Help: "Remote blob API calls by method and outcome.",
	}, []string{"method", "outcome"})

	// CacheLookups counts metadata cache hits and misses.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "abrinostore_cache_lookups_total",
		Help: "Metadata cache lookups by result.",
	}, []string{"result"})
)
