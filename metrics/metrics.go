// Package metrics exposes Prometheus collectors for the RPC server and client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the socket-rpc collectors.
	Registry = prometheus.NewRegistry()

	serverRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socket_rpc",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total number of dispatched invocations.",
		},
		[]string{"interface", "method", "status"},
	)

	serverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "socket_rpc",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Duration of dispatched invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"interface", "method"},
	)

	serverConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "socket_rpc",
			Subsystem: "server",
			Name:      "connections",
			Help:      "Currently open server connections.",
		},
	)

	serverEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "socket_rpc",
			Subsystem: "server",
			Name:      "idle_evictions_total",
			Help:      "Connections closed by the liveness monitor.",
		},
	)

	serverHeartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "socket_rpc",
			Subsystem: "server",
			Name:      "heartbeats_total",
			Help:      "Heartbeat frames received.",
		},
	)

	clientCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socket_rpc",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Total number of proxy calls.",
		},
		[]string{"interface", "method", "status"},
	)

	clientDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "socket_rpc",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Duration of proxy calls as seen by the caller.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"interface", "method"},
	)

	clientConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "socket_rpc",
			Subsystem: "client",
			Name:      "connections",
			Help:      "Connections currently registered in the client connection registry.",
		},
	)

	clientReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "socket_rpc",
			Subsystem: "client",
			Name:      "connect_attempts_total",
			Help:      "Dial attempts made by the reconnecting transport.",
		},
		[]string{"result"},
	)

	clientLateResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "socket_rpc",
			Subsystem: "client",
			Name:      "late_responses_total",
			Help:      "Responses that arrived after their caller timed out and were dropped.",
		},
	)
)

func init() {
	Registry.MustRegister(
		serverRequests,
		serverDuration,
		serverConnections,
		serverEvictions,
		serverHeartbeats,
		clientCalls,
		clientDuration,
		clientConnections,
		clientReconnects,
		clientLateResponses,
	)
}

// Handler serves the collectors in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordServerRequest records one dispatched invocation.
func RecordServerRequest(iface, method, status string, d time.Duration) {
	serverRequests.WithLabelValues(iface, method, status).Inc()
	serverDuration.WithLabelValues(iface, method).Observe(d.Seconds())
}

func ServerConnOpened() { serverConnections.Inc() }
func ServerConnClosed() { serverConnections.Dec() }
func IdleEviction() { serverEvictions.Inc() }
func HeartbeatReceived() { serverHeartbeats.Inc() }

// RecordClientCall records one proxy call from the caller's point of view.
func RecordClientCall(iface, method, status string, d time.Duration) {
	clientCalls.WithLabelValues(iface, method, status).Inc()
	clientDuration.WithLabelValues(iface, method).Observe(d.Seconds())
}

func ClientConnRegistered() { clientConnections.Inc() }
func ClientConnRemoved() { clientConnections.Dec() }

// RecordConnectAttempt counts a dial by the reconnecting transport.
func RecordConnectAttempt(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	clientReconnects.WithLabelValues(result).Inc()
}

func LateResponseDropped() { clientLateResponses.Inc() }
