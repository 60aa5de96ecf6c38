// Package config holds the wirebus application configuration: defaults,
// optional YAML overrides, and an atomically swappable global.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/conch/wirebus/pkg/socket"
	"gopkg.in/yaml.v3"
)

// Config defines behavior and limits for a wirebus process.
type Config struct {
	// Address is the IPv4 address to listen on or connect to.
	Address string `yaml:"address"`

	// Port is the TCP port for the endpoint.
	Port uint16 `yaml:"port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// ReadTimeout bounds a single receive attempt and sets the worker's
	// tick cadence.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum time to wait when sending a frame.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// DialTimeout is the maximum time for a single connect attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// KeepAliveInterval is the period between liveness probes.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// ConnectAttempts bounds connect/bind retries before giving up.
	ConnectAttempts int `yaml:"connect_attempts"`

	// MaxSendRate limits outbound bytes/second. 0 = unlimited.
	MaxSendRate int64 `yaml:"max_send_rate"`

	// MetricsEnabled toggles the Prometheus endpoint.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsBindAddr is the HTTP address for metrics (e.g. ":9090").
	MetricsBindAddr string `yaml:"metrics_bind_addr"`
}

func defaultConfig() Config {
	return Config{
		Address:           "127.0.0.1",
		Port:              7777,
		LogLevel:          "info",
		ReadTimeout:       250 * time.Millisecond,
		WriteTimeout:      30 * time.Second,
		DialTimeout:       7 * time.Second,
		KeepAliveInterval: 500 * time.Millisecond,
		ConnectAttempts:   5,
		MaxSendRate:       0,
		MetricsEnabled:    false,
		MetricsBindAddr:   ":9090",
	}
}

// SocketConfig derives the endpoint configuration from the app config.
func (c *Config) SocketConfig() *socket.Config {
	sc := socket.DefaultConfig()
	sc.ReadTimeout = c.ReadTimeout
	sc.WriteTimeout = c.WriteTimeout
	sc.DialTimeout = c.DialTimeout
	sc.KeepAliveInterval = c.KeepAliveInterval
	sc.ConnectAttempts = c.ConnectAttempts
	sc.MaxSendRate = c.MaxSendRate
	return sc
}

// Init installs the defaults, overlaid with the YAML file at path when one
// is given.
func Init(path string) error {
	c := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Store(&c)
	return nil
}
