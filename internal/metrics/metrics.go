// Package metrics holds the Prometheus collectors shared by the pipeline.
// Hot-path errors are collapsed into these counters rather than returned up
// the stack; transient failures are recovered where they occur.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesParsed counts successfully processed venue messages.
	MessagesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdagg_venue_messages_total",
		Help: "Venue WebSocket messages successfully parsed and dispatched.",
	}, []string{"venue"})

	// ParseErrors counts per-message failures that were logged and dropped.
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdagg_venue_parse_errors_total",
		Help: "Venue messages dropped due to parse or protocol errors.",
	}, []string{"venue", "kind"})

	// Reconnects counts adapter reconnect attempts.
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdagg_venue_reconnects_total",
		Help: "Venue WebSocket reconnect attempts.",
	}, []string{"venue"})

	// BookUpdates counts applied snapshots and deltas.
	BookUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdagg_book_updates_total",
		Help: "Order book snapshots and deltas applied.",
	}, []string{"venue", "type"})

	// StateErrors counts dropped updates for unknown or invalid state.
	StateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdagg_state_errors_total",
		Help: "Updates dropped because no state exists or values were invalid.",
	}, []string{"component"})

	// CacheErrors counts failed cache writes (in-memory state stays authoritative).
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdagg_cache_errors_total",
		Help: "Failed hot-cache writes.",
	}, []string{"component"})

	// CandlesCompleted counts finished candle buckets.
	CandlesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdagg_candles_completed_total",
		Help: "Candle buckets completed.",
	}, []string{"venue", "timeframe"})

	// AggPublishes counts consolidated book publications.
	AggPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdagg_aggregated_publishes_total",
		Help: "Consolidated books published.",
	})

	// AggThrottled counts updates dropped by the per-symbol publish throttle.
	AggThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdagg_aggregated_throttled_total",
		Help: "Aggregation cycles skipped by the publish throttle.",
	})

	// ColdStoreBatches counts candle batch writes by outcome.
	ColdStoreBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdagg_coldstore_batches_total",
		Help: "Cold-store candle batch writes.",
	}, []string{"outcome"})

	// GatewayClients tracks connected downstream WebSocket clients.
	GatewayClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mdagg_gateway_clients",
		Help: "Connected downstream WebSocket clients.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
