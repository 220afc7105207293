// Package metrics exposes the overlay's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detail outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
	OutcomeStale    = "stale"
)

var (
	detailRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmap_detail_requests_total",
		Help: "Cell detail requests by outcome",
	}, []string{"outcome"})

	detailLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridmap_detail_latency_seconds",
		Help:    "Cell detail request latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	selectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmap_selections_total",
		Help: "Selection actions by kind",
	}, []string{"kind"})

	tableReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridmap_table_reloads_total",
		Help: "Classification table swaps",
	})

	tableCells = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridmap_table_cells",
		Help: "Cells in the active classification table",
	})

	tileCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmap_tile_cache_total",
		Help: "Basemap tile cache lookups by result",
	}, []string{"result"})

	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridmap_ws_clients",
		Help: "Connected event stream clients",
	})

	membershipBuildSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridmap_membership_build_seconds",
		Help: "Duration of the last region membership build",
	})
)

// RecordDetail counts a detail outcome.
func RecordDetail(outcome string, elapsed time.Duration) {
	detailRequestsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeStale {
		detailLatency.Observe(elapsed.Seconds())
	}
}

// RecordSelection counts a selection action.
func RecordSelection(kind string) {
	selectionsTotal.WithLabelValues(kind).Inc()
}

// RecordReload counts a table swap and tracks its size.
func RecordReload(cells int) {
	tableReloadsTotal.Inc()
	tableCells.Set(float64(cells))
}

// RecordTileCache counts a tile cache hit or miss.
func RecordTileCache(hit bool) {
	if hit {
		tileCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	tileCacheTotal.WithLabelValues("miss").Inc()
}

// WSClientConnected tracks stream clients.
func WSClientConnected() { wsClients.Inc() }

// WSClientDisconnected tracks stream clients.
func WSClientDisconnected() { wsClients.Dec() }

// RecordMembershipBuild stores the last build duration.
func RecordMembershipBuild(d time.Duration) {
	membershipBuildSeconds.Set(d.Seconds())
}
