// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the VSM service configuration.
//
// Values are resolved in order: built-in defaults, then the YAML file, then
// VSM_* environment variables (a .env file in the working directory is
// loaded first when present).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gocd/gocd-sub047/pkg/logging"
	"github.com/gocd/gocd-sub047/services/vsm/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Snapshot backends.
const (
	BackendNone   = "none"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Upstream  UpstreamConfig   `yaml:"upstream"`
	Links     LinksConfig      `yaml:"links"`
	Cache     CacheConfig      `yaml:"cache"`
	Snapshot  SnapshotConfig   `yaml:"snapshot"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	Debug           bool          `yaml:"debug"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// UpstreamConfig selects where graphs come from. Exactly one of BaseURL
// and Dir must be set.
type UpstreamConfig struct {
	// BaseURL is the configuration engine root, e.g. http://gocd:8153/go.
	BaseURL string `yaml:"base_url" validate:"required_without=Dir,excluded_with=Dir,omitempty,url"`

	// Dir serves graphs from JSON files instead of the engine.
	Dir string `yaml:"dir" validate:"required_without=BaseURL"`

	// Watch invalidates cached maps when files under Dir change.
	Watch bool `yaml:"watch"`

	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
	RateLimit float64       `yaml:"rate_limit" validate:"gte=0"`
	Burst     int           `yaml:"burst" validate:"gte=0"`
	Token     string        `yaml:"token"`
}

// LinksConfig controls locator generation.
type LinksConfig struct {
	// BaseURL prefixes every locator. Empty produces root-relative paths.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// Disabled renders every locator empty.
	Disabled bool `yaml:"disabled"`
}

// CacheConfig controls the assembled map cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"max_entries" validate:"gte=0"`
	TTL        time.Duration `yaml:"ttl" validate:"gte=0"`
}

// SnapshotConfig controls last-known-good graph storage.
type SnapshotConfig struct {
	Backend string         `yaml:"backend" validate:"oneof=none badger redis"`
	MaxAge  time.Duration  `yaml:"max_age" validate:"gte=0"`
	Badger  BadgerSettings `yaml:"badger"`
	Redis   RedisSettings  `yaml:"redis"`
}

// BadgerSettings configures the embedded store.
type BadgerSettings struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes"`
	TTL        time.Duration `yaml:"ttl" validate:"gte=0"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// RedisSettings configures the shared store.
type RedisSettings struct {
	Addr      string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db" validate:"gte=0"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" validate:"gte=0"`
}

// LoggingConfig controls pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
	Dir    string `yaml:"dir"`
	Quiet  bool   `yaml:"quiet"`
}

// DefaultConfig returns defaults for a local configuration engine.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL:   "http://localhost:8153/go",
			Timeout:   10 * time.Second,
			RateLimit: 50,
			Burst:     10,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 512,
			TTL:        30 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Backend: BackendNone,
			MaxAge:  24 * time.Hour,
			Badger: BadgerSettings{
				Path:       "./data/snapshots",
				SyncWrites: true,
				TTL:        7 * 24 * time.Hour,
				GCInterval: 5 * time.Minute,
			},
			Redis: RedisSettings{
				Addr:      "localhost:6379",
				KeyPrefix: "gocd",
				TTL:       7 * 24 * time.Hour,
			},
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatAuto),
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Snapshot.Backend {
	case BackendBadger:
		if !c.Snapshot.Badger.InMemory && c.Snapshot.Badger.Path == "" {
			return fmt.Errorf("%w: snapshot.badger.path is required", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.Snapshot.Redis.Addr == "" {
			return fmt.Errorf("%w: snapshot.redis.addr is required", ErrInvalidConfig)
		}
	}
	if c.Upstream.Watch && c.Upstream.Dir == "" {
		return fmt.Errorf("%w: upstream.watch requires upstream.dir", ErrInvalidConfig)
	}
	return nil
}

// LoggerConfig converts the logging section for pkg/logging.
func (c *Config) LoggerConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		Service: service,
		Format:  logging.Format(c.Logging.Format),
		LogDir:  c.Logging.Dir,
		Quiet:   c.Logging.Quiet,
	}, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays VSM_* variables onto cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.int("VSM_PORT", &cfg.Server.Port)
	env.bool("VSM_DEBUG", &cfg.Server.Debug)

	if v, ok := lookup("VSM_UPSTREAM_URL"); ok {
		cfg.Upstream.BaseURL = v
		if v != "" {
			cfg.Upstream.Dir = ""
		}
	}
	if v, ok := lookup("VSM_UPSTREAM_DIR"); ok {
		cfg.Upstream.Dir = v
		if v != "" {
			cfg.Upstream.BaseURL = ""
		}
	}
	env.bool("VSM_UPSTREAM_WATCH", &cfg.Upstream.Watch)
	env.string("VSM_UPSTREAM_TOKEN", &cfg.Upstream.Token)
	env.duration("VSM_UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	env.float("VSM_UPSTREAM_RATE_LIMIT", &cfg.Upstream.RateLimit)

	env.string("VSM_LINKS_BASE_URL", &cfg.Links.BaseURL)

	env.bool("VSM_CACHE_ENABLED", &cfg.Cache.Enabled)
	env.int("VSM_CACHE_SIZE", &cfg.Cache.MaxEntries)
	env.duration("VSM_CACHE_TTL", &cfg.Cache.TTL)

	env.string("VSM_SNAPSHOT_BACKEND", &cfg.Snapshot.Backend)
	env.duration("VSM_SNAPSHOT_MAX_AGE", &cfg.Snapshot.MaxAge)
	env.string("VSM_BADGER_PATH", &cfg.Snapshot.Badger.Path)
	env.string("VSM_REDIS_ADDR", &cfg.Snapshot.Redis.Addr)
	env.string("VSM_REDIS_PASSWORD", &cfg.Snapshot.Redis.Password)
	env.int("VSM_REDIS_DB", &cfg.Snapshot.Redis.DB)

	env.string("VSM_LOG_LEVEL", &cfg.Logging.Level)
	env.string("VSM_LOG_FORMAT", &cfg.Logging.Format)
	env.string("VSM_LOG_DIR", &cfg.Logging.Dir)

	return errors.Join(env.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (r *envReader) string(name string, dst *string) {
	if v, ok := r.lookup(name); ok {
		*dst = v
	}
}

func (r *envReader) int(name string, dst *int) {
	if v, ok := r.lookup(name); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) float(name string, dst *float64) {
	if v, ok := r.lookup(name); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = f
	}
}

func (r *envReader) bool(name string, dst *bool) {
	if v, ok := r.lookup(name); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if v, ok := r.lookup(name); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}
}
