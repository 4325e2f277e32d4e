package instrumentation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the tracker's Prometheus collectors.
type Metrics struct {
	PollsTotal       *prometheus.CounterVec
	FetchFailures    *prometheus.CounterVec
	EventsAppended   *prometheus.CounterVec
	UnitsInferred    *prometheus.CounterVec
	RebuildsTotal    prometheus.Counter
	RebuildSeconds   prometheus.Histogram
	EventLogSize     prometheus.Gauge
	LogVersion       prometheus.Gauge
}

// NewMetrics creates and registers all collectors on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		PollsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auctionwatch_polls_total",
			Help: "Poll cycles by feed and outcome (changed, not_modified, error)",
		}, []string{"feed", "outcome"}),

		FetchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auctionwatch_fetch_failures_total",
			Help: "Fetch failures by feed and error kind",
		}, []string{"feed", "kind"}),

		EventsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auctionwatch_sales_events_total",
			Help: "Inferred sale events appended, by feed and inference tier",
		}, []string{"feed", "tier"}),

		UnitsInferred: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "auctionwatch_units_inferred_total",
			Help: "Inferred units sold, by feed and inference tier",
		}, []string{"feed", "tier"}),

		RebuildsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "auctionwatch_stats_rebuilds_total",
			Help: "Background stats cache rebuilds",
		}),

		RebuildSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "auctionwatch_stats_rebuild_seconds",
			Help:    "Duration of stats cache rebuilds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		EventLogSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auctionwatch_event_log_size",
			Help: "Events currently retained in the sales event log",
		}),

		LogVersion: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "auctionwatch_event_log_version",
			Help: "Current event log mutation version",
		}),
	}
}

// ObserveRebuild records one background rebuild.
func (m *Metrics) ObserveRebuild(d time.Duration) {
	m.RebuildsTotal.Inc()
	m.RebuildSeconds.Observe(d.Seconds())
}
