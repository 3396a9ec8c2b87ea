// Package metrics exposes the executor's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	Fills           *prometheus.CounterVec
	FilledQty       *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	PassLatency     prometheus.Histogram
	VenueLatency    prometheus.Histogram
}

// New registers every instrument with reg. Pass a fresh registry in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxh", Name: "orders_submitted_total",
			Help: "Orders accepted for processing.",
		}, []string{"route"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxh", Name: "orders_rejected_total",
			Help: "Orders rejected, by error kind.",
		}, []string{"kind"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxh", Name: "order_transitions_total",
			Help: "Order state transitions, by target state.",
		}, []string{"to"}),
		Fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxh", Name: "fills_total",
			Help: "Fills emitted.",
		}, []string{"symbol"}),
		FilledQty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fxh", Name: "filled_qty_total",
			Help: "Lots filled.",
		}, []string{"symbol"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fxh", Name: "shard_queue_depth",
			Help: "Requests waiting in a shard's submission ring.",
		}, []string{"shard"}),
		PassLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fxh", Name: "matching_pass_seconds",
			Help:    "Time spent in one matching pass.",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
		VenueLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fxh", Name: "venue_call_seconds",
			Help:    "Round trip of venue submit and cancel calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.OrdersSubmitted, m.OrdersRejected, m.Transitions,
		m.Fills, m.FilledQty, m.QueueDepth, m.PassLatency, m.VenueLatency,
	)
	return m
}

// Discard returns instruments registered nowhere.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

func Since(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
