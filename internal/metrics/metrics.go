// Package metrics provides Prometheus instrumentation for the Fiqir client
// SDK and dev server. It exposes gauges for channel state, counters for push
// event and message throughput, and histograms for request latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChannelState tracks the push channel state as a numeric gauge:
	// 0 = closed, 1 = connecting, 2 = open, 3 = closing.
	ChannelState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fiqir_channel_state",
		Help: "Current push channel state (0=closed 1=connecting 2=open 3=closing)",
	})

	// Reconnects counts reconnection attempts after abnormal closure.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiqir_channel_reconnects_total",
		Help: "Total number of push channel reconnection attempts",
	})

	// EventsDispatched counts push events fanned out by the router, labeled
	// by event type ("unknown" for unrecognized types).
	EventsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiqir_events_dispatched_total",
		Help: "Total number of push events dispatched to subscribers",
	}, []string{"type"})

	// MessagesSent counts outbound chat messages, labeled by outcome:
	// "sent", "failed", "retried".
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiqir_messages_sent_total",
		Help: "Total number of chat messages sent by the client",
	}, []string{"outcome"})

	// GiftsSent counts gift transactions, labeled by outcome:
	// "sent", "insufficient_funds", "rejected".
	GiftsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiqir_gifts_sent_total",
		Help: "Total number of gift send attempts",
	}, []string{"outcome"})

	// WalletRefreshes counts authoritative wallet refreshes.
	WalletRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fiqir_wallet_refreshes_total",
		Help: "Total number of wallet refreshes from the server",
	})

	// RequestLatency records REST request latency in seconds, labeled by
	// operation name.
	RequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiqir_request_latency_seconds",
		Help:    "REST request latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"op"})

	// PushConnections tracks open push connections on the dev server.
	PushConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fiqir_push_connections",
		Help: "Current number of open push connections on the dev server",
	})

	// PushDelivered counts events delivered to push connections, labeled by
	// route: "local" for same-instance, "nats" for cross-instance delivery.
	PushDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiqir_push_delivered_total",
		Help: "Total push events delivered to clients",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(
		ChannelState,
		Reconnects,
		EventsDispatched,
		MessagesSent,
		GiftsSent,
		WalletRefreshes,
		RequestLatency,
		PushConnections,
		PushDelivered,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
