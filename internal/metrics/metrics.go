// Package metrics provides Prometheus metrics for the slab market engine.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slab_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_rate_limited_total",
			Help: "Requests rejected by the per-caller rate limiter",
		},
		[]string{"scope"}, // "read", "purge"
	)

	// Snapshot Cache Metrics
	SnapshotCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_snapshot_cache_hits_total",
			Help: "Market snapshot cache hit count",
		},
	)

	SnapshotCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_snapshot_cache_misses_total",
			Help: "Market snapshot cache miss count (including expired entries)",
		},
	)

	SnapshotCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slab_snapshot_cache_entries",
			Help: "Number of entries currently held in the snapshot cache",
		},
	)

	SnapshotCachePurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_snapshot_cache_purged_total",
			Help: "Snapshot cache entries removed, by cause",
		},
		[]string{"cause"}, // "id", "pattern", "sweep"
	)

	SnapshotCacheStaleSets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_snapshot_cache_stale_sets_total",
			Help: "Computed snapshots not cached because a purge happened while they were computed",
		},
	)

	SnapshotComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slab_snapshot_compute_duration_seconds",
			Help:    "Time taken to compute snapshots for one read or batch read",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	// Refresh Orchestrator Metrics
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_refresh_total",
			Help: "Refresh requests by outcome",
		},
		[]string{"outcome"}, // "instant", "scheduled", "coalesced", "completed", "failed"
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slab_refresh_duration_seconds",
			Help:    "Time taken by a refresh pipeline run (search, filter, persist)",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	RefreshPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slab_refresh_pending",
			Help: "Number of item ids with a refresh scheduled or running",
		},
	)

	ListingsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_listings_filtered_total",
			Help: "Marketplace listings by filter decision",
		},
		[]string{"decision"}, // "accepted", "rejected"
	)

	// Marketplace Metrics
	MarketplaceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_marketplace_requests_total",
			Help: "Marketplace search requests by result",
		},
		[]string{"result"}, // "success", "error", "quota"
	)

	MarketplaceQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slab_marketplace_quota_remaining",
			Help: "Remaining marketplace search requests for today",
		},
	)

	MarketplaceQuotaLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slab_marketplace_quota_limit",
			Help: "Daily marketplace search request limit",
		},
	)

	MarketplaceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slab_marketplace_latency_seconds",
			Help:    "Marketplace search latency including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	// AI Filter Metrics
	AIFilterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_ai_filter_total",
			Help: "AI re-filter attempts by provenance of the kept set",
		},
		[]string{"provenance"}, // "ai-enhanced", "rules-only"
	)

	AIFilterFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_ai_filter_fallbacks_total",
			Help: "AI re-filter skips and fallbacks by reason code",
		},
		[]string{"reason"},
	)

	GeminiRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_gemini_requests_total",
			Help: "Total successful Gemini filter requests",
		},
	)

	GeminiAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slab_gemini_api_latency_seconds",
			Help:    "Gemini API call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	GeminiErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_gemini_errors_total",
			Help: "Gemini API errors by type",
		},
		[]string{"type"}, // "network", "read", "api", "parse", "schema", "empty"
	)

	// Sales Store Metrics
	SalesInsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slab_sales_inserted_total",
			Help: "Sale records inserted by provenance",
		},
		[]string{"provenance"},
	)

	SalesDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slab_sales_duplicates_total",
			Help: "Sale records dropped as duplicates of stored sales",
		},
	)
)
