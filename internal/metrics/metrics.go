// Package metrics defines the Prometheus instruments of the whale ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whaleledger"

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	// Feed metrics
	MessagesReceived prometheus.Counter
	DecodeFailures   prometheus.Counter
	WhalesDetected   prometheus.Counter
	Reconnects       prometheus.Counter
	FeedConnected    prometheus.Gauge
	WhaleQueueDepth  prometheus.Gauge

	// Enrichment metrics
	ReputationLookups *prometheus.CounterVec
	LookupFailures    *prometheus.CounterVec

	// Ledger metrics
	TradesRecorded prometheus.Counter
	StorageErrors  *prometheus.CounterVec

	// Settlement metrics
	MarketsResolved prometheus.Counter
	TradesSettled   prometheus.Counter
	CycleDuration   prometheus.Histogram

	// Alert metrics
	AlertsSent *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(reg)
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_received_total",
			Help:      "Frames received from the trade stream",
		}),
		DecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "decode_failures_total",
			Help:      "Frames or trades discarded as malformed",
		}),
		WhalesDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "whales_detected_total",
			Help:      "Trades at or above the whale threshold",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Stream connection attempts after the first",
		}),
		FeedConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 while the stream is subscribed",
		}),
		WhaleQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "whale_queue_depth",
			Help:      "Whale trades waiting for enrichment",
		}),

		ReputationLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "lookups_total",
			Help:      "Reputation requests by cache result",
		}, []string{"result"}),
		LookupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "failures_total",
			Help:      "Failed upstream API calls by endpoint and reason",
		}, []string{"endpoint", "reason"}),

		TradesRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "trades_recorded_total",
			Help:      "Whale trades persisted",
		}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "errors_total",
			Help:      "Failed ledger operations",
		}, []string{"operation"}),

		MarketsResolved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "markets_resolved_total",
			Help:      "Markets found resolved by the reconciler",
		}),
		TradesSettled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "trades_settled_total",
			Help:      "Trades settled against a resolution",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a reconciliation cycle",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
		}),

		AlertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "sent_total",
			Help:      "Alerts handed to sinks by sink and result",
		}, []string{"sink", "result"}),

		registry: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OrNew returns m, or a private instance when m is nil so that components
// built without metrics still have working collectors.
func OrNew(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return newMetrics(prometheus.NewRegistry())
}
