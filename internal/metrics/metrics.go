// Package metrics exposes Prometheus instrumentation for the engine and the
// streaming layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "invoicex"

// Collector bundles every metric the process registers. Fields are exported
// so call sites increment them directly.
type Collector struct {
	registry *prometheus.Registry

	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	OrdersExpired   prometheus.Counter
	StopsTriggered  prometheus.Counter

	TradesExecuted *prometheus.CounterVec
	TradeVolume    *prometheus.CounterVec

	OpenOrders *prometheus.GaugeVec

	Subscribers        prometheus.Gauge
	SubscribersDropped prometheus.Counter
	EventsPublished    *prometheus.CounterVec
}

// New builds a collector backed by its own registry, so tests can create
// collectors freely without duplicate-registration panics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the engine.",
		}, []string{"pair", "side", "type"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders rejected at validation.",
		}, []string{"reason"}),
		OrdersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_expired_total",
			Help:      "GTD orders removed by the expiry sweep.",
		}),
		StopsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stops_triggered_total",
			Help:      "Stop orders converted to market or limit orders.",
		}),
		TradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades matched per pair.",
		}, []string{"pair"}),
		TradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_volume_total",
			Help:      "Matched quantity per pair.",
		}, []string{"pair"}),
		OpenOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_orders",
			Help:      "Orders currently resting on a book or stop index.",
		}, []string{"pair"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Currently registered stream subscribers.",
		}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_subscribers_dropped_total",
			Help:      "Subscribers dropped for not draining their queue.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events broadcast per event type.",
		}, []string{"type"}),
	}
	c.registry.MustRegister(
		c.OrdersSubmitted,
		c.OrdersRejected,
		c.OrdersExpired,
		c.StopsTriggered,
		c.TradesExecuted,
		c.TradeVolume,
		c.OpenOrders,
		c.Subscribers,
		c.SubscribersDropped,
		c.EventsPublished,
	)
	return c
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
