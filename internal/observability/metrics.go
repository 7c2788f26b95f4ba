package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToggleTotal counts toggle outcomes by kind ("like", "save", "follow") and
	// outcome ("activated", "deactivated", "not_found", "rejected", "error").
	ToggleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_toggle_total",
		Help: "Total toggle calls by kind and outcome",
	}, []string{"kind", "outcome"})

	// TxRetries counts transaction bodies re-run after a store conflict.
	TxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_tx_retries_total",
		Help: "Total transaction retries after a write conflict",
	}, []string{"op"})

	// TxDuration records end-to-end transaction latency including retries.
	TxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engagement_tx_duration_seconds",
		Help:    "Transaction latency in seconds, retries included",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// InvariantViolations counts aborted transactions that would have corrupted a counter or edge.
	InvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_invariant_violations_total",
		Help: "Total transactions aborted on an invariant violation",
	}, []string{"op"})

	// BackfillPosts counts posts whose author snapshot was rewritten.
	BackfillPosts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engagement_backfill_posts_total",
		Help: "Total posts rewritten by profile backfill",
	})

	// OrphansReaped counts orphaned membership rows removed by the reaper.
	OrphansReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_orphans_reaped_total",
		Help: "Total orphaned rows removed by the reaper",
	}, []string{"table"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// FeedEvents counts change-feed publications by event type.
	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_feed_events_total",
		Help: "Total change-feed events published by type",
	}, []string{"type"})

	// FeedRelay counts events forwarded to WebSocket clients, by result.
	FeedRelay = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_feed_relay_total",
		Help: "Total change-feed events relayed to WebSocket clients by result",
	}, []string{"result"})
)

// TrackTx returns a function that records transaction latency when called (e.g. defer).
func TrackTx(op string) func() {
	start := time.Now()
	return func() {
		TxDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
