// Package metrics provides Prometheus instrumentation for the intercom
// gateway. It exposes gauges for connection and room counts, counters for
// notification throughput, and a histogram for fan-out sizes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intercom_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomsOnline tracks the number of rooms currently reported online.
	RoomsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "intercom_rooms_online",
		Help: "Number of rooms currently reported online",
	})

	// NotificationsTotal counts lifecycle events, labeled by status:
	// "pending" on create, then "received" and "completed" on updates.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intercom_notifications_total",
		Help: "Total number of notification lifecycle events",
	}, []string{"status"})

	// PushRequestsTotal counts push-delivery requests published to the
	// pusher worker, labeled by outcome at the worker: "sent", "gone",
	// "failed".
	PushRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intercom_push_requests_total",
		Help: "Total number of web push delivery attempts",
	}, []string{"outcome"})

	// FanoutSize records how many live connections each delivery reached.
	FanoutSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "intercom_fanout_size",
		Help:    "Live connections reached per delivery",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsOnline,
		NotificationsTotal,
		PushRequestsTotal,
		FanoutSize,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
