// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

// Package config provides centralized configuration for all Prefero
// components, loaded with Koanf v2 from layered sources:
//
//  1. Defaults: built-in sensible defaults
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any setting
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Model     ModelConfig     `koanf:"model"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	State     StateConfig     `koanf:"state"`
	NATS      NATSConfig      `koanf:"nats"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Port is the HTTP listen port.
	Port int `koanf:"port"`

	// Host is the HTTP listen address.
	Host string `koanf:"host"`

	// Timeout is the per-request read/write timeout.
	Timeout time.Duration `koanf:"timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds DuckDB settings for interaction and content storage.
type DatabaseConfig struct {
	// Path is the DuckDB database file path. Empty means in-memory.
	Path string `koanf:"path"`

	// MaxMemory limits DuckDB memory usage (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB worker thread count. 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// ModelConfig holds matrix factorization hyperparameters and artifact storage.
type ModelConfig struct {
	// Path is the directory where model versions are persisted.
	Path string `koanf:"path"`

	// EmbeddingDim is the latent factor dimensionality.
	EmbeddingDim int `koanf:"embedding_dim"`

	// LearningRate is the SGD step size.
	LearningRate float64 `koanf:"learning_rate"`

	// Regularization is the L2 penalty applied to embeddings and biases.
	Regularization float64 `koanf:"regularization"`

	// Epochs is the number of full passes over the training data.
	Epochs int `koanf:"epochs"`

	// BatchSize is the mini-batch size for SGD.
	BatchSize int `koanf:"batch_size"`

	// Seed seeds embedding initialization and epoch shuffling.
	Seed int64 `koanf:"seed"`

	// MaxInteractions bounds how many interactions are loaded per training run.
	MaxInteractions int `koanf:"max_interactions"`

	// FreshnessWindow skips training when the current model is younger
	// than this and the run was not forced.
	FreshnessWindow time.Duration `koanf:"freshness_window"`

	// KeepVersions is how many model versions Prune retains.
	KeepVersions int `koanf:"keep_versions"`
}

// SchedulerConfig holds retraining scheduler settings.
type SchedulerConfig struct {
	// Enabled turns the background retraining loop on.
	Enabled bool `koanf:"enabled"`

	// TickInterval is how often the scheduler evaluates retraining conditions.
	TickInterval time.Duration `koanf:"tick_interval"`

	// RetrainInterval is the minimum elapsed time between automatic runs.
	RetrainInterval time.Duration `koanf:"retrain_interval"`

	// InteractionThreshold triggers retraining once this many interactions
	// accumulate after the interval has elapsed.
	InteractionThreshold int64 `koanf:"interaction_threshold"`

	// WindowStartHour and WindowEndHour bound the daily window (local time,
	// 0-23) inside which automatic retraining may run. Equal values disable
	// the window. Manual triggers ignore the window.
	WindowStartHour int `koanf:"window_start_hour"`
	WindowEndHour   int `koanf:"window_end_hour"`

	// ErrorBackoff is how long the loop sleeps after an evaluation error.
	ErrorBackoff time.Duration `koanf:"error_backoff"`

	// RunTimeout bounds a single training run.
	RunTimeout time.Duration `koanf:"run_timeout"`
}

// StateConfig holds Badger-backed durable state settings.
type StateConfig struct {
	// Path is the Badger database directory.
	Path string `koanf:"path"`

	// JobTTL is how long training job records are retained.
	JobTTL time.Duration `koanf:"job_ttl"`
}

// NATSConfig holds event pipeline settings.
type NATSConfig struct {
	// Enabled turns the interaction event pipeline on.
	Enabled bool `koanf:"enabled"`

	// URL is the NATS server URL.
	URL string `koanf:"url"`

	// EmbeddedServer runs an in-process NATS server.
	EmbeddedServer bool `koanf:"embedded_server"`

	// StoreDir is the JetStream storage directory for the embedded server.
	StoreDir string `koanf:"store_dir"`
}

// APIConfig holds API behavior settings.
type APIConfig struct {
	// DefaultLimit is the recommendation count when none is requested.
	DefaultLimit int `koanf:"default_limit"`

	// MaxLimit caps the recommendation count per request.
	MaxLimit int `koanf:"max_limit"`

	// RateLimitReqs is the request budget per rate limit window.
	RateLimitReqs int `koanf:"rate_limit_reqs"`

	// RateLimitWindow is the rate limit window duration.
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// CORSOrigins lists allowed CORS origins.
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8600,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/prefero.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Model: ModelConfig{
			Path:            "/data/models",
			EmbeddingDim:    50,
			LearningRate:    0.005,
			Regularization:  0.02,
			Epochs:          20,
			BatchSize:       1000,
			Seed:            42,
			MaxInteractions: 50000,
			FreshnessWindow: 24 * time.Hour,
			KeepVersions:    5,
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			TickInterval:         time.Minute,
			RetrainInterval:      12 * time.Hour,
			InteractionThreshold: 50,
			WindowStartHour:      0,
			WindowEndHour:        0,
			ErrorBackoff:         5 * time.Minute,
			RunTimeout:           30 * time.Minute,
		},
		State: StateConfig{
			Path:   "/data/state",
			JobTTL: 24 * time.Hour,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
		},
		API: APIConfig{
			DefaultLimit:    10,
			MaxLimit:        100,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
