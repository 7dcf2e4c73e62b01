package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncedRows counts per-row sync outcomes.
	// Labels: provider (xero/quickbooks/myob), entity (client/invoice),
	// status (success/error).
	SyncedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_synced_rows_total",
		Help: "Total number of entity rows pushed to accounting providers",
	}, []string{"provider", "entity", "status"})

	// SyncBatchDuration measures how long a whole sync invocation takes.
	// Latency grows linearly with row count; use this to spot slow
	// provider APIs.
	SyncBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgersync_sync_batch_duration_seconds",
		Help:    "Duration of sync batches in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "entity"})

	// OAuthRefreshes counts token refresh attempts per provider.
	OAuthRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_oauth_refreshes_total",
		Help: "Total number of OAuth token refresh attempts",
	}, []string{"provider", "status"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersync_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"action"})
)
