// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

// Package config defines the Hearth configuration tree and its layered
// loader. Precedence: environment variables > YAML config file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the hub node.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Storage  StorageConfig  `koanf:"storage"`
	Database DatabaseConfig `koanf:"database"`
	Tunnel   TunnelConfig   `koanf:"tunnel"`
	Logging  LoggingConfig  `koanf:"logging"`
	API      APIConfig      `koanf:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	// MaxBodyBytes caps multipart upload request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"min=1"`
}

// SecurityConfig holds authentication and rate-limit settings.
type SecurityConfig struct {
	// SessionTTL is the lifetime of issued bearer tokens.
	SessionTTL time.Duration `koanf:"session_ttl"`
	// AuthBurst is the token-bucket capacity for register/login, per client IP.
	AuthBurst int `koanf:"auth_burst" validate:"min=1"`
	// AuthRefillPerMin is the token-bucket refill rate per minute.
	AuthRefillPerMin float64 `koanf:"auth_refill_per_min"`
	// APIRateLimit is the general per-IP request limit per minute.
	APIRateLimit int      `koanf:"api_rate_limit" validate:"min=1"`
	CORSOrigins  []string `koanf:"cors_origins"`
	// RegistrySecret gates the fleet register/deregister endpoints.
	// Normally injected at build time via -ldflags; empty disables them.
	RegistrySecret string `koanf:"registry_secret"`
}

// StorageConfig holds filesystem layout settings.
type StorageConfig struct {
	// DataDir is the install root: database, blobs and marker live below it.
	DataDir string `koanf:"data_dir" validate:"required"`
	// BlobSubdir is the directory under DataDir holding file contents.
	BlobSubdir string `koanf:"blob_subdir"`
	// RelocateSafetyBytes is extra free space required beyond current usage
	// before a relocation is allowed to proceed.
	RelocateSafetyBytes int64 `koanf:"relocate_safety_bytes"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	// Path overrides the default <data_dir>/hearth.db when set.
	Path string `koanf:"path"`
}

// TunnelConfig holds tunnel supervision settings.
type TunnelConfig struct {
	// Binary is the cloudflared executable; resolved from PATH when empty.
	Binary string `koanf:"binary"`
	// WatchdogInterval is how often the watchdog polls tunnel health.
	WatchdogInterval time.Duration `koanf:"watchdog_interval"`
	// QuickURLTimeout bounds the wait for a quick tunnel's assigned URL.
	QuickURLTimeout time.Duration `koanf:"quick_url_timeout"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// APIConfig holds pagination settings.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size" validate:"min=1"`
	MaxPageSize     int `koanf:"max_page_size" validate:"min=1"`
}

// Default returns a Config with all default values applied.
// Defaults are loaded first, then overridden by file and environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8420,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodyBytes: 100 << 20, // 100MB upload cap
		},
		Security: SecurityConfig{
			SessionTTL:       7 * 24 * time.Hour,
			AuthBurst:        10,
			AuthRefillPerMin: 10,
			APIRateLimit:     300,
			CORSOrigins:      []string{"*"},
			RegistrySecret:   "",
		},
		Storage: StorageConfig{
			DataDir:             "/data/hearth",
			BlobSubdir:          "files",
			RelocateSafetyBytes: 512 << 20,
		},
		Database: DatabaseConfig{
			Path: "",
		},
		Tunnel: TunnelConfig{
			Binary:           "",
			WatchdogInterval: 15 * time.Second,
			QuickURLTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		API: APIConfig{
			DefaultPageSize: 50,
			MaxPageSize:     100,
		},
	}
}

// DatabasePath returns the effective SQLite file path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return c.Storage.DataDir + "/hearth.db"
}

// Validate checks cross-field constraints not covered by struct tags.
func (c *Config) Validate() error {
	if c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("api.default_page_size %d exceeds api.max_page_size %d",
			c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	if c.Security.AuthRefillPerMin <= 0 {
		return fmt.Errorf("security.auth_refill_per_min must be positive")
	}
	return nil
}
