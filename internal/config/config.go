// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

/*
Package config loads mediasync configuration.

Configuration is layered with koanf, later layers overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: the --config flag, MEDIASYNC_CONFIG, then the
    paths in DefaultConfigPaths
 3. Environment variables prefixed MEDIASYNC_, with a double underscore
    separating sections: MEDIASYNC_SYNC__PING_INTERVAL=20s

Example file:

	server:
	  url: https://sync.example.com
	  device_name: Living room TV
	sync:
	  approval_poll_interval: 5s
	storage:
	  path: /var/lib/mediasync
	status:
	  enabled: true
	  listen: 127.0.0.1:7879
*/
package config

import (
	"time"
)

// Config is the complete mediasync configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Sync    SyncConfig    `koanf:"sync"`
	Storage StorageConfig `koanf:"storage"`
	Status  StatusConfig  `koanf:"status"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig identifies the coordination server and this installation.
// URL may be empty: the client then runs local-only until configured.
type ServerConfig struct {
	URL        string `koanf:"url" validate:"omitempty,httpurl"`
	Password   string `koanf:"password"`
	DeviceName string `koanf:"device_name" validate:"required,max=64"`
	Platform   string `koanf:"platform" validate:"required"`
}

// SyncConfig holds transport timings and REST client limits.
type SyncConfig struct {
	PingInterval         time.Duration `koanf:"ping_interval" validate:"gt=0"`
	PongTimeout          time.Duration `koanf:"pong_timeout" validate:"gt=0,ltfield=PingInterval"`
	BackoffInitial       time.Duration `koanf:"backoff_initial" validate:"gt=0"`
	BackoffMax           time.Duration `koanf:"backoff_max" validate:"gtefield=BackoffInitial"`
	ApprovalPollInterval time.Duration `koanf:"approval_poll_interval" validate:"gt=0"`
	RequestTimeout       time.Duration `koanf:"request_timeout" validate:"gt=0"`
	HandshakeTimeout     time.Duration `koanf:"handshake_timeout" validate:"gt=0"`

	// Client-side limit on REST calls to the coordination server.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	RateBurst int     `koanf:"rate_burst" validate:"min=1"`

	// Circuit breaker around REST calls.
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// StorageConfig locates the badger directory holding the library, the
// session and the pending queue.
type StorageConfig struct {
	Path       string `koanf:"path" validate:"required_unless=InMemory true"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites bool   `koanf:"sync_writes"`

	// GCInterval is how often the value log is garbage collected.
	GCInterval time.Duration `koanf:"gc_interval" validate:"gt=0"`
}

// StatusConfig controls the local HTTP status API used by UI processes.
type StatusConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Listen      string        `koanf:"listen" validate:"required_if=Enabled true,omitempty,hostname_port"`
	CORSOrigins []string      `koanf:"cors_origins"`
	RateLimit   int           `koanf:"rate_limit" validate:"min=1"`
	RateWindow  time.Duration `koanf:"rate_window" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Configured reports whether a coordination server has been set.
func (c *Config) Configured() bool {
	return c.Server.URL != ""
}
