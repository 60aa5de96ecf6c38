package socket

import (
	"sync/atomic"
	"time"
)

// Stats holds per-socket counters. All counters are atomic and monotonically
// increasing for the lifetime of the socket.
type Stats struct {
	// MessagesSent counts frames successfully written, excluding
	// keep-alives.
	MessagesSent atomic.Uint64

	// MessagesReceived counts frames fully parsed and queued for the
	// application.
	MessagesReceived atomic.Uint64

	// BytesSent is the total number of frame bytes written, excluding
	// keep-alives.
	BytesSent atomic.Uint64

	// BytesReceived is the total payload bytes of received messages.
	BytesReceived atomic.Uint64

	// KeepAlivesSent counts keep-alive probes written.
	KeepAlivesSent atomic.Uint64

	// Errors counts protocol or I/O errors reported to listeners.
	Errors atomic.Uint64

	// connectedAt is the wall-clock time the connection was established,
	// in unix nanoseconds. Zero until the first connection.
	connectedAt atomic.Int64
}

func (s *Stats) markConnected(t time.Time) {
	s.connectedAt.Store(t.UnixNano())
}

// Metrics is a point-in-time snapshot of Stats.
type Metrics struct {
	MessagesSent     uint64    `json:"messagesSent"`
	MessagesReceived uint64    `json:"messagesReceived"`
	BytesSent        uint64    `json:"bytesSent"`
	BytesReceived    uint64    `json:"bytesReceived"`
	KeepAlivesSent   uint64    `json:"keepAlivesSent"`
	Errors           uint64    `json:"errors"`
	ConnectedAt      time.Time `json:"connectedAt"`
}

func (s *Stats) snapshot() Metrics {
	var connectedAt time.Time
	if ns := s.connectedAt.Load(); ns != 0 {
		connectedAt = time.Unix(0, ns)
	}

	return Metrics{
		MessagesSent:     s.MessagesSent.Load(),
		MessagesReceived: s.MessagesReceived.Load(),
		BytesSent:        s.BytesSent.Load(),
		BytesReceived:    s.BytesReceived.Load(),
		KeepAlivesSent:   s.KeepAlivesSent.Load(),
		Errors:           s.Errors.Load(),
		ConnectedAt:      connectedAt,
	}
}
