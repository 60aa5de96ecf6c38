// Package metrics exports a Socket's counters through Prometheus.
package metrics

import (
	"net/http"

	"github.com/conch/wirebus/pkg/socket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register installs collectors reading live snapshots from src onto reg.
func Register(reg *prometheus.Registry, src func() socket.Metrics) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wirebus_messages_sent_total",
			Help: "Frames written to the peer, excluding keep-alives.",
		}, func() float64 { return float64(src().MessagesSent) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wirebus_messages_received_total",
			Help: "Frames fully parsed and queued for the application.",
		}, func() float64 { return float64(src().MessagesReceived) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wirebus_bytes_sent_total",
			Help: "Frame bytes written to the peer, excluding keep-alives.",
		}, func() float64 { return float64(src().BytesSent) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wirebus_bytes_received_total",
			Help: "Payload bytes of received messages.",
		}, func() float64 { return float64(src().BytesReceived) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wirebus_keepalives_sent_total",
			Help: "Keep-alive probes written.",
		}, func() float64 { return float64(src().KeepAlivesSent) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wirebus_errors_total",
			Help: "Protocol and I/O errors reported to listeners.",
		}, func() float64 { return float64(src().Errors) }),
	)
}

// Handler returns the HTTP handler serving reg in the Prometheus text
// exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
