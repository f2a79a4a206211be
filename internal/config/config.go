// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package config loads and validates the gateway configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables, in increasing priority.
package config

import (
	"fmt"
	"time"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/compress"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/events"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/integrity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/localindex"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/retry"
)

// Config is the root configuration tree.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	CloudSave   CloudSaveConfig   `koanf:"cloudsave"`
	Compression compress.Config   `koanf:"compression"`
	Integrity   integrity.Options `koanf:"integrity"`
	Retry       RetryConfig       `koanf:"retry"`
	LocalIndex  localindex.Config `koanf:"local_index"`
	Events      events.Config     `koanf:"events"`
	Security    SecurityConfig    `koanf:"security"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `koanf:"host"`
	// Port is the listen port.
	Port int `koanf:"port"`
	// Timeout bounds request read and write.
	Timeout time.Duration `koanf:"timeout"`
	// Environment is "development" or "production". Production rejects
	// weak security settings at startup.
	Environment string `koanf:"environment"`
}

// LoggingConfig mirrors the logging package settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ToLogging converts to the logging package's config.
func (c LoggingConfig) ToLogging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = c.Format
	cfg.Caller = c.Caller
	return cfg
}

// CloudSaveConfig bounds per-user save storage.
type CloudSaveConfig struct {
	// MaxSlots is the number of addressable slots. Valid slot numbers
	// run from 0 to MaxSlots-1.
	MaxSlots int `koanf:"max_slots"`

	// MaxSaveSize caps a single serialized save in bytes, measured
	// before compression.
	MaxSaveSize int64 `koanf:"max_save_size"`

	// MaxSaves caps how many saves a list operation returns.
	MaxSaves int `koanf:"max_saves"`

	// QuotaBytes is the per-user storage quota.
	QuotaBytes int64 `koanf:"quota_bytes"`

	// QuotaWarnThreshold is the used/quota ratio above which a
	// quota.warning event fires.
	QuotaWarnThreshold float64 `koanf:"quota_warn_threshold"`

	// AttachmentRateLimit is the per-second rate for attachment uploads.
	AttachmentRateLimit float64 `koanf:"attachment_rate_limit"`
}

// RetryPreset overrides one retry class. Zero values keep the built-in
// preset.
type RetryPreset struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
}

// RetryConfig holds per-class overrides.
type RetryConfig struct {
	Critical RetryPreset `koanf:"critical"`
	Network  RetryPreset `koanf:"network"`
	Light    RetryPreset `koanf:"light"`
}

// apply overlays the preset's non-zero fields onto base.
func (p RetryPreset) apply(base retry.Config) retry.Config {
	if p.MaxAttempts > 0 {
		base.MaxAttempts = p.MaxAttempts
	}
	if p.BaseDelay > 0 {
		base.BaseDelay = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		base.MaxDelay = p.MaxDelay
	}
	return base
}

// CriticalRetry returns the critical-class retry config with overrides
// applied.
func (c RetryConfig) CriticalRetry() retry.Config { return c.Critical.apply(retry.Critical()) }

// NetworkRetry returns the network-class retry config with overrides
// applied.
func (c RetryConfig) NetworkRetry() retry.Config { return c.Network.apply(retry.Network()) }

// LightRetry returns the light-class retry config with overrides applied.
func (c RetryConfig) LightRetry() retry.Config { return c.Light.apply(retry.Light()) }

// SecurityConfig holds authentication and rate limiting settings.
type SecurityConfig struct {
	// JWTSecret signs player tokens. Minimum 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	// SessionTimeout bounds token lifetime.
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// RateLimitReqs and RateLimitWindow bound API request rates per
	// client.
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// CORSOrigins lists allowed cross-origin hosts.
	CORSOrigins []string `koanf:"cors_origins"`
}

// defaultConfig returns the built-in defaults. These are applied first,
// then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8790,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		CloudSave: CloudSaveConfig{
			MaxSlots:            10,
			MaxSaveSize:         10 << 20, // 10MB serialized state
			MaxSaves:            50,
			QuotaBytes:          100 << 20,
			QuotaWarnThreshold:  0.8,
			AttachmentRateLimit: 2,
		},
		Compression: compress.DefaultConfig(),
		Integrity: integrity.Options{
			Enabled:        true,
			EnableRecovery: true,
			StrictMode:     false,
		},
		Retry: RetryConfig{}, // zero overrides keep built-in presets
		LocalIndex: localindex.Config{
			Path: "", // empty disables the local index
		},
		Events: events.DefaultConfig(),
		Security: SecurityConfig{
			JWTSecret:       "",
			SessionTimeout:  24 * time.Hour,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Environment != "development" && c.Server.Environment != "production" {
		return fmt.Errorf("server.environment must be development or production, got %q", c.Server.Environment)
	}

	if c.CloudSave.MaxSlots < 1 {
		return fmt.Errorf("cloudsave.max_slots must be positive, got %d", c.CloudSave.MaxSlots)
	}
	if c.CloudSave.MaxSaveSize < 1 {
		return fmt.Errorf("cloudsave.max_save_size must be positive, got %d", c.CloudSave.MaxSaveSize)
	}
	if c.CloudSave.MaxSaves < 1 {
		return fmt.Errorf("cloudsave.max_saves must be positive, got %d", c.CloudSave.MaxSaves)
	}
	if c.CloudSave.QuotaWarnThreshold <= 0 || c.CloudSave.QuotaWarnThreshold > 1 {
		return fmt.Errorf("cloudsave.quota_warn_threshold must be in (0, 1], got %v", c.CloudSave.QuotaWarnThreshold)
	}

	switch c.Compression.Algorithm {
	case compress.AlgorithmZstd, compress.AlgorithmGzip, compress.AlgorithmNone:
	default:
		return fmt.Errorf("compression.algorithm %q is not supported", c.Compression.Algorithm)
	}
	if c.Compression.ChunkSize < 1 {
		return fmt.Errorf("compression.chunk_size must be positive, got %d", c.Compression.ChunkSize)
	}

	for name, p := range map[string]RetryPreset{
		"retry.critical": c.Retry.Critical,
		"retry.network":  c.Retry.Network,
		"retry.light":    c.Retry.Light,
	} {
		if p.MaxAttempts < 0 {
			return fmt.Errorf("%s.max_attempts must not be negative", name)
		}
		if p.BaseDelay < 0 || p.MaxDelay < 0 {
			return fmt.Errorf("%s delays must not be negative", name)
		}
	}

	// Production refuses to start without a real signing secret.
	if c.Server.Environment == "production" && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters in production")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("security.rate_limit_reqs must be positive, got %d", c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security.rate_limit_window must be positive, got %v", c.Security.RateLimitWindow)
		}
	}

	return nil
}
