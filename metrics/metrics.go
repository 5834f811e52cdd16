// Package metrics exposes Prometheus instrumentation for the consensus
// engine. A nil *Metrics is valid and records nothing, so wiring stays
// optional in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	blocksCommitted prometheus.Counter
	txsCommitted    prometheus.Counter
	txsRejected     *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	roundDuration   prometheus.Histogram
	roundFailures   prometheus.Counter
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		blocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quor_blocks_committed_total",
			Help: "Blocks appended to the chain.",
		}),
		txsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quor_txs_committed_total",
			Help: "Transactions executed in committed blocks.",
		}),
		txsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quor_txs_rejected_total",
			Help: "Transactions rejected at admission.",
		}, []string{"reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quor_pending_queue_depth",
			Help: "Transactions waiting in the pending queue.",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quor_round_duration_seconds",
			Help:    "Wall time of a full propose/validate/commit round.",
			Buckets: prometheus.DefBuckets,
		}),
		roundFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quor_round_failures_total",
			Help: "Rounds abandoned before commit.",
		}),
	}
	reg.MustRegister(
		m.blocksCommitted, m.txsCommitted, m.txsRejected,
		m.queueDepth, m.roundDuration, m.roundFailures,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BlockCommitted(txCount int, queueDepth int) {
	if m == nil {
		return
	}
	m.blocksCommitted.Inc()
	m.txsCommitted.Add(float64(txCount))
	m.queueDepth.Set(float64(queueDepth))
}

func (m *Metrics) TxAdmitted(queueDepth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(queueDepth))
}

func (m *Metrics) TxRejected(reason string) {
	if m == nil {
		return
	}
	m.txsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RoundFinished(d time.Duration, committed bool) {
	if m == nil {
		return
	}
	m.roundDuration.Observe(d.Seconds())
	if !committed {
		m.roundFailures.Inc()
	}
}
