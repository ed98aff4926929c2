// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "MEDIASYNC_"

	// ConfigPathEnvVar overrides the config file search.
	ConfigPathEnvVar = "MEDIASYNC_CONFIG"
)

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"mediasync.yaml",
	"mediasync.yml",
	"/etc/mediasync/config.yaml",
}

func defaultConfig() *Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "mediasync"
	}
	return &Config{
		Server: ServerConfig{
			DeviceName: host,
			Platform:   runtime.GOOS,
		},
		Sync: SyncConfig{
			PingInterval:         25 * time.Second,
			PongTimeout:          10 * time.Second,
			BackoffInitial:       time.Second,
			BackoffMax:           30 * time.Second,
			ApprovalPollInterval: 5 * time.Second,
			RequestTimeout:       10 * time.Second,
			HandshakeTimeout:     10 * time.Second,
			RateLimit:            10,
			RateBurst:            20,
			BreakerFailures:      5,
			BreakerTimeout:       30 * time.Second,
		},
		Storage: StorageConfig{
			Path:       defaultDataDir(),
			SyncWrites: true,
			GCInterval: 10 * time.Minute,
		},
		Status: StatusConfig{
			Enabled:     true,
			Listen:      "127.0.0.1:7879",
			CORSOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
			RateLimit:   120,
			RateWindow:  time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "mediasync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "mediasync")
	}
	return "mediasync-data"
}

// Load reads configuration from defaults, the YAML file at path (or the
// first file found by findConfigFile when path is empty) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "mediasync", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps MEDIASYNC_SYNC__PING_INTERVAL to sync.ping_interval.
// Returning "" skips the variable.
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

// sliceConfigPaths are parsed from comma separated env values.
var sliceConfigPaths = []string{
	"status.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
