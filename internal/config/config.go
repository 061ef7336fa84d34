// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for primestream.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.primestream/config.toml
//   - ~/.primestream/config.json
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/primestream/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete primestream configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// HTTP server configuration
	Server ServerConfig `toml:"server" json:"server"`

	// Task execution configuration
	Tasks TasksConfig `toml:"tasks" json:"tasks"`

	// Snapshot stream configuration
	Stream StreamConfig `toml:"stream" json:"stream"`

	// Outcome archive configuration
	History HistoryConfig `toml:"history" json:"history"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the interface to bind
	Host string `toml:"host" json:"host"`
	// Port is the TCP port to bind
	Port int `toml:"port" json:"port"`
	// CORSOrigins lists the allowed browser origins ("*" allows any)
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
	// AuthToken enables bearer auth on /api routes other than health when set
	AuthToken string `toml:"auth_token" json:"auth_token"`
	// RateLimitRPS is the per-client request rate (0 = unlimited)
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// RateLimitBurst is the per-client burst size
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
}

// TasksConfig contains task execution configuration.
// Durations are strings in TOML ("1s") and nanoseconds in JSON.
type TasksConfig struct {
	// DefaultBatchSize is used when a submission omits batch_size
	DefaultBatchSize uint32 `toml:"default_batch_size" json:"default_batch_size"`
	// ProgressBuffer is the capacity of each task's progress channel
	ProgressBuffer int `toml:"progress_buffer" json:"progress_buffer"`
	// ProgressInterval is the longest gap between progress emissions
	ProgressInterval time.Duration `toml:"progress_interval" json:"progress_interval"`
	// RetainTerminal caps completed/failed tasks kept in memory (0 = keep all)
	RetainTerminal int `toml:"retain_terminal" json:"retain_terminal"`
	// MaxReportedPrimes caps the primes list carried by a completion (0 = unlimited)
	MaxReportedPrimes int `toml:"max_reported_primes" json:"max_reported_primes"`
}

// StreamConfig contains snapshot stream configuration.
type StreamConfig struct {
	// Interval is how often each subscriber receives a snapshot
	Interval time.Duration `toml:"interval" json:"interval"`
}

// HistoryConfig contains outcome archive configuration.
type HistoryConfig struct {
	// Enabled records every terminal task outcome in SQLite
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the database file (empty = ~/.primestream/history.db)
	Path string `toml:"path" json:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// CurrentVersion is the config schema version.
	CurrentVersion = "1"

	DefaultHost              = "0.0.0.0"
	DefaultPort              = 5001
	DefaultCORSOrigin        = "http://localhost:5173"
	DefaultRateLimitRPS      = 20.0
	DefaultRateLimitBurst    = 40
	DefaultBatchSize         = 10000
	DefaultProgressBuffer    = 32
	DefaultProgressInterval  = time.Second
	DefaultMaxReportedPrimes = 10000
	DefaultStreamInterval    = 100 * time.Millisecond

	minInterval       = 10 * time.Millisecond
	maxStreamInterval = time.Minute
	maxProgressBuffer = 1 << 16
)

// Default returns a configuration with all default values.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Host:           DefaultHost,
			Port:           DefaultPort,
			CORSOrigins:    []string{DefaultCORSOrigin},
			RateLimitRPS:   DefaultRateLimitRPS,
			RateLimitBurst: DefaultRateLimitBurst,
		},
		Tasks: TasksConfig{
			DefaultBatchSize:  DefaultBatchSize,
			ProgressBuffer:    DefaultProgressBuffer,
			ProgressInterval:  DefaultProgressInterval,
			MaxReportedPrimes: DefaultMaxReportedPrimes,
		},
		Stream: StreamConfig{
			Interval: DefaultStreamInterval,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the primestream configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".primestream"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DefaultHistoryPath returns ~/.primestream/history.db.
func DefaultHistoryPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, string, error) {
	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			cfg, err := LoadFromPath(path)
			return cfg, path, err
		}
	}

	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			cfg, err := LoadFromPath(path)
			return cfg, path, err
		}
	}

	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
// Keys missing from the file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies env overrides and defaults, then validates.
func (c *Config) finish() error {
	c.ApplyEnvOverrides()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to a TOML file atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# primestream configuration file")
	fmt.Fprintln(&buf, "# Generated by primestream - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Server
	// ==========================================================================

	if strings.TrimSpace(c.Server.Host) == "" {
		errs = append(errs, ValidationError{Field: "server.host", Message: "must not be empty"})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range 1-65535", c.Server.Port),
		})
	}
	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "server.cors_origins",
				Message: fmt.Sprintf("invalid origin '%s', must be an http(s) origin or '*'", origin),
			})
		}
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit_rps", Message: "must not be negative"})
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_burst",
			Message: "must be at least 1 when rate limiting is enabled",
		})
	}

	// ==========================================================================
	// Tasks
	// ==========================================================================

	if c.Tasks.DefaultBatchSize == 0 {
		errs = append(errs, ValidationError{Field: "tasks.default_batch_size", Message: "must be greater than zero"})
	}
	if c.Tasks.ProgressBuffer < 1 || c.Tasks.ProgressBuffer > maxProgressBuffer {
		errs = append(errs, ValidationError{
			Field:   "tasks.progress_buffer",
			Message: fmt.Sprintf("must be between 1 and %d", maxProgressBuffer),
		})
	}
	if c.Tasks.ProgressInterval < minInterval {
		errs = append(errs, ValidationError{
			Field:   "tasks.progress_interval",
			Message: fmt.Sprintf("must be at least %s", minInterval),
		})
	}
	if c.Tasks.RetainTerminal < 0 {
		errs = append(errs, ValidationError{Field: "tasks.retain_terminal", Message: "must not be negative"})
	}
	if c.Tasks.MaxReportedPrimes < 0 {
		errs = append(errs, ValidationError{Field: "tasks.max_reported_primes", Message: "must not be negative"})
	}

	// ==========================================================================
	// Stream
	// ==========================================================================

	if c.Stream.Interval < minInterval || c.Stream.Interval > maxStreamInterval {
		errs = append(errs, ValidationError{
			Field:   "stream.interval",
			Message: fmt.Sprintf("must be between %s and %s", minInterval, maxStreamInterval),
		})
	}

	// ==========================================================================
	// History
	// ==========================================================================

	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		errs = append(errs, ValidationError{Field: "history.path", Message: "must be set when history is enabled"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values that have a sensible default.
// Explicit zeros that mean "unlimited" (retain_terminal, max_reported_primes,
// rate_limit_rps) are left alone.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Tasks.DefaultBatchSize == 0 {
		c.Tasks.DefaultBatchSize = DefaultBatchSize
	}
	if c.Tasks.ProgressBuffer == 0 {
		c.Tasks.ProgressBuffer = DefaultProgressBuffer
	}
	if c.Tasks.ProgressInterval == 0 {
		c.Tasks.ProgressInterval = DefaultProgressInterval
	}
	if c.Stream.Interval == 0 {
		c.Stream.Interval = DefaultStreamInterval
	}
	if c.History.Enabled && c.History.Path == "" {
		if path, err := DefaultHistoryPath(); err == nil {
			c.History.Path = path
		}
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PRIMESTREAM_HOST: overrides server.host
//   - PRIMESTREAM_PORT: overrides server.port
//   - PRIMESTREAM_AUTH_TOKEN: overrides server.auth_token
//   - PRIMESTREAM_STREAM_INTERVAL: overrides stream.interval ("250ms")
//   - PRIMESTREAM_HISTORY_PATH: sets history.path and enables the archive
//
// Unparseable values are logged and ignored.
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("PRIMESTREAM_HOST"); host != "" {
		c.Server.Host = host
	}

	if port := os.Getenv("PRIMESTREAM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		} else {
			log.Printf("CONFIG_ENV_IGNORED | var=PRIMESTREAM_PORT error=%v", err)
		}
	}

	if token := os.Getenv("PRIMESTREAM_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}

	if interval := os.Getenv("PRIMESTREAM_STREAM_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Stream.Interval = d
		} else {
			log.Printf("CONFIG_ENV_IGNORED | var=PRIMESTREAM_STREAM_INTERVAL error=%v", err)
		}
	}

	if path := os.Getenv("PRIMESTREAM_HISTORY_PATH"); path != "" {
		c.History.Path = path
		c.History.Enabled = true
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// ListenAddr returns host:port for the HTTP listener.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.CORSOrigins != nil {
		clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	}
	return &clone
}

// String returns a JSON representation with the auth token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.AuthToken != "" {
		safe.Server.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
