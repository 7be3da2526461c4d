package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the process collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	feedConnected  prometheus.Gauge
	feedReconnects prometheus.Counter
	feedMessages   prometheus.Counter
	feedParseErrs  prometheus.Counter

	ordersPlaced     *prometheus.CounterVec
	ordersFilled     *prometheus.CounterVec
	ordersTimedOut   *prometheus.CounterVec
	placementsFailed *prometheus.CounterVec

	executions       *prometheus.CounterVec
	executionSeconds *prometheus.HistogramVec
	pnlPercent       *prometheus.GaugeVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		feedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perp_feed_connected",
			Help: "1 while the orderbook stream is connected",
		}),
		feedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perp_feed_reconnects_total",
			Help: "Orderbook stream reconnect attempts",
		}),
		feedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perp_feed_messages_total",
			Help: "Orderbook messages received",
		}),
		feedParseErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perp_feed_parse_errors_total",
			Help: "Orderbook messages dropped as unparseable or invalid",
		}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_placed_total",
			Help: "Limit orders accepted by the venue",
		}, []string{"kind", "side"}),
		ordersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_filled_total",
			Help: "Limit orders observed fully filled",
		}, []string{"kind"}),
		ordersTimedOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_timeout_total",
			Help: "Limit orders cancelled after their dwell time",
		}, []string{"kind"}),
		placementsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_order_placement_failures_total",
			Help: "Limit orders rejected by the venue",
		}, []string{"kind"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_executions_total",
			Help: "Engine invocations by terminal outcome",
		}, []string{"kind", "outcome"}),
		executionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_execution_duration_seconds",
			Help:    "Wall time of engine invocations",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
		}, []string{"kind"}),
		pnlPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_position_pnl_percent",
			Help: "Last observed unrealized P&L percent",
		}, []string{"symbol"}),
	}

	m.registry.MustRegister(
		m.feedConnected, m.feedReconnects, m.feedMessages, m.feedParseErrs,
		m.ordersPlaced, m.ordersFilled, m.ordersTimedOut, m.placementsFailed,
		m.executions, m.executionSeconds, m.pnlPercent,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetFeedConnected sets the stream state gauge.
func (m *Metrics) SetFeedConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.feedConnected.Set(1)
	} else {
		m.feedConnected.Set(0)
	}
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.feedReconnects.Inc()
}

func (m *Metrics) RecordMessage() {
	if m == nil {
		return
	}
	m.feedMessages.Inc()
}

func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.feedParseErrs.Inc()
}

// RecordOrderPlaced records an accepted order.
func (m *Metrics) RecordOrderPlaced(kind, side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(kind, side).Inc()
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled(kind string) {
	if m == nil {
		return
	}
	m.ordersFilled.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordOrderTimeout(kind string) {
	if m == nil {
		return
	}
	m.ordersTimedOut.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordPlacementFailed(kind string) {
	if m == nil {
		return
	}
	m.placementsFailed.WithLabelValues(kind).Inc()
}

// RecordExecution records the outcome and duration of one engine run.
func (m *Metrics) RecordExecution(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(kind, outcome).Inc()
	m.executionSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// SetPnLPercent records the last monitored P&L percent.
func (m *Metrics) SetPnLPercent(symbol string, pct float64) {
	if m == nil {
		return
	}
	m.pnlPercent.WithLabelValues(symbol).Set(pct)
}
