// Package metrics provides Prometheus metrics for infoscape.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "infoscape"

// Fetch status label values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

var (
	// FetchCyclesTotal counts completed fetch cycles by outcome.
	FetchCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_cycles_total",
			Help:      "Total number of fetch cycles",
		},
		[]string{"status"},
	)

	// SourceFetchTotal counts per-source fetch attempts.
	SourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_total",
			Help:      "Total number of source fetches",
		},
		[]string{"source", "status"},
	)

	// PostsUpsertedTotal counts posts written to the store.
	PostsUpsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_upserted_total",
			Help:      "Total number of posts upserted",
		},
		[]string{"source"},
	)

	// MalformedBlocksTotal counts message blocks skipped by the parser.
	MalformedBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_blocks_total",
			Help:      "Total number of malformed message blocks skipped",
		},
		[]string{"source"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of fetch cycles in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// BotUpdatesTotal counts processed bot updates by command.
	BotUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_updates_total",
			Help:      "Total number of bot updates processed",
		},
		[]string{"command"},
	)
)

// RecordCycle records a finished fetch cycle.
func RecordCycle(status string, d time.Duration) {
	FetchCyclesTotal.WithLabelValues(status).Inc()
	CycleDuration.Observe(d.Seconds())
}

// RecordSourceFetch records the outcome of fetching one source.
func RecordSourceFetch(sourceID, status string) {
	SourceFetchTotal.WithLabelValues(sourceID, status).Inc()
}

// RecordUpserts adds n stored posts for a source.
func RecordUpserts(sourceID string, n int) {
	if n > 0 {
		PostsUpsertedTotal.WithLabelValues(sourceID).Add(float64(n))
	}
}

func RecordMalformedBlock(sourceID string) {
	MalformedBlocksTotal.WithLabelValues(sourceID).Inc()
}

func RecordBotUpdate(command string) {
	BotUpdatesTotal.WithLabelValues(command).Inc()
}
