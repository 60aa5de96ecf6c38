package socket

import (
	"log/slog"
	"time"
)

// Config defines timing and resource limits for a Socket.
type Config struct {
	// ReadTimeout bounds a single receive attempt. It is what gives the
	// Connected state its cooperative tick cadence: the worker wakes at
	// least this often to drain sends, probe liveness, and observe a close
	// request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame before
	// considering the connection stalled.
	WriteTimeout time.Duration

	// DialTimeout is the maximum time for a single connect attempt.
	DialTimeout time.Duration

	// KeepAliveInterval is the wall-clock period between keep-alive frames
	// while Connected.
	KeepAliveInterval time.Duration

	// ConnectAttempts is how many connect (and bind) attempts Connecting
	// (and Opening) makes, the first one included, before giving up with a
	// fatal error.
	ConnectAttempts int

	// ConnectBackoffMin is the delay before the first retry; subsequent
	// delays double up to ConnectBackoffMax.
	ConnectBackoffMin time.Duration

	// ConnectBackoffMax caps the retry backoff.
	ConnectBackoffMax time.Duration

	// MaxSendRate limits outbound throughput in bytes/second. 0 = unlimited.
	MaxSendRate int64

	// Logger receives the socket's diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for most use cases.
func DefaultConfig() *Config {
	return &Config{
		ReadTimeout:       250 * time.Millisecond,
		WriteTimeout:      30 * time.Second,
		DialTimeout:       7 * time.Second,
		KeepAliveInterval: 500 * time.Millisecond,
		ConnectAttempts:   5,
		ConnectBackoffMin: 250 * time.Millisecond,
		ConnectBackoffMax: 2 * time.Second,
		MaxSendRate:       0,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	defaults := DefaultConfig()

	if out.ReadTimeout <= 0 {
		out.ReadTimeout = defaults.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = defaults.DialTimeout
	}
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = defaults.KeepAliveInterval
	}
	if out.ConnectAttempts <= 0 {
		out.ConnectAttempts = defaults.ConnectAttempts
	}
	if out.ConnectBackoffMin <= 0 {
		out.ConnectBackoffMin = defaults.ConnectBackoffMin
	}
	if out.ConnectBackoffMax <= 0 {
		out.ConnectBackoffMax = defaults.ConnectBackoffMax
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}

	return &out
}
