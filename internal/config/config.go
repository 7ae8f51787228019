// Package config handles loading and validating Onyesha configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Onyesha.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.onyesha/workspace. Override: ONYESHA_WORKSPACE env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default (derived from workspace)
	Runtime       RuntimeConfig        `json:"runtime" yaml:"runtime"`
	Ports         PortsConfig          `json:"ports" yaml:"ports"`
	Preview       PreviewConfig        `json:"preview" yaml:"preview"`
	Cleanup       *CleanupConfig       `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`             // nil = enabled with defaults
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"`                       // Default: ":8080".
	APIToken            string          `json:"api_token,omitempty" yaml:"api_token,omitempty"`       // Bearer token. Override: ONYESHA_API_TOKEN env var. Empty = no auth.
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 10 MB.
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body cap with a default of 10 MB.
func (s *ServerConfig) MaxRequestSize() int64 {
	if s != nil && s.MaxRequestSizeBytes > 0 {
		return s.MaxRequestSizeBytes
	}
	return 10 << 20
}

// RateLimitConfig configures per-client rate limiting for the API.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the workspace.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: ONYESHA_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// RuntimeConfig selects and tunes the container runtime driver.
type RuntimeConfig struct {
	Driver              string  `json:"driver" yaml:"driver"`                             // "cli" (docker CLI, default) or "docker" (engine API).
	BuildTimeoutSeconds int     `json:"build_timeout_seconds" yaml:"build_timeout_seconds"` // Default: 300.
	MaxMemoryMB         int     `json:"max_memory_mb" yaml:"max_memory_mb"`               // Per-container memory limit. Default: 512.
	MaxCPUCores         float64 `json:"max_cpu_cores" yaml:"max_cpu_cores"`               // Per-container CPU limit. Default: 1.0.
	PIDsLimit           int     `json:"pids_limit" yaml:"pids_limit"`                     // Default: 256.
}

// RuntimeDriver returns the configured driver, defaulting to "cli".
func (r *RuntimeConfig) RuntimeDriver() string {
	if r != nil && r.Driver != "" {
		return r.Driver
	}
	return "cli"
}

// BuildTimeout returns the image build timeout with a default of 5m.
func (r *RuntimeConfig) BuildTimeout() time.Duration {
	if r != nil && r.BuildTimeoutSeconds > 0 {
		return time.Duration(r.BuildTimeoutSeconds) * time.Second
	}
	return 5 * time.Minute
}

// PortsConfig bounds the host port range handed to preview containers.
type PortsConfig struct {
	Start int `json:"start" yaml:"start"` // Default: 4000.
	End   int `json:"end" yaml:"end"`     // Default: 5000.
}

// Range returns the configured port range, defaulting to [4000, 5000].
func (p *PortsConfig) Range() (int, int) {
	if p == nil || p.Start <= 0 || p.End < p.Start {
		return 4000, 5000
	}
	return p.Start, p.End
}

// PreviewConfig tunes the preview lifecycle manager and health monitor.
type PreviewConfig struct {
	MaxActive             int `json:"max_active" yaml:"max_active"`                           // Concurrent sandbox ceiling. Default: 20.
	MonitorIntervalSecs   int `json:"monitor_interval_seconds" yaml:"monitor_interval_seconds"` // Default: 3.
	MonitorGraceSecs      int `json:"monitor_grace_seconds" yaml:"monitor_grace_seconds"`     // Warm-up before first probe. Default: 5.
	MonitorMaxAttempts    int `json:"monitor_max_attempts" yaml:"monitor_max_attempts"`       // Default: 60.
	ProbeTimeoutSecs      int `json:"probe_timeout_seconds" yaml:"probe_timeout_seconds"`     // Default: 2.
	LogScanEveryNAttempts int `json:"log_scan_every_n_attempts" yaml:"log_scan_every_n_attempts"` // Default: 3.
}

// MonitorInterval returns the health monitor tick interval with a default of 3s.
func (p *PreviewConfig) MonitorInterval() time.Duration {
	if p != nil && p.MonitorIntervalSecs > 0 {
		return time.Duration(p.MonitorIntervalSecs) * time.Second
	}
	return 3 * time.Second
}

// MonitorGrace returns the warm-up delay with a default of 5s.
func (p *PreviewConfig) MonitorGrace() time.Duration {
	if p != nil && p.MonitorGraceSecs > 0 {
		return time.Duration(p.MonitorGraceSecs) * time.Second
	}
	return 5 * time.Second
}

// ProbeTimeout returns the per-probe timeout with a default of 2s.
func (p *PreviewConfig) ProbeTimeout() time.Duration {
	if p != nil && p.ProbeTimeoutSecs > 0 {
		return time.Duration(p.ProbeTimeoutSecs) * time.Second
	}
	return 2 * time.Second
}

// CleanupConfig tunes the janitor. When the section is nil the janitor
// still runs with defaults; set enabled: false to turn it off entirely.
type CleanupConfig struct {
	Enabled          *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"` // Default: true.
	SweepIntervalS   int   `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"` // Default: 60.
	IdleAfterMinutes int   `json:"idle_after_minutes" yaml:"idle_after_minutes"`         // Default: 30.
}

// CleanupEnabled reports whether the janitor should run. Defaults to true.
func (c *CleanupConfig) CleanupEnabled() bool {
	if c == nil || c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// SweepInterval returns the sweep interval with a default of 60s.
func (c *CleanupConfig) SweepInterval() time.Duration {
	if c != nil && c.SweepIntervalS > 0 {
		return time.Duration(c.SweepIntervalS) * time.Second
	}
	return time.Minute
}

// IdleAfter returns the idle threshold with a default of 30m.
func (c *CleanupConfig) IdleAfter() time.Duration {
	if c != nil && c.IdleAfterMinutes > 0 {
		return time.Duration(c.IdleAfterMinutes) * time.Minute
	}
	return 30 * time.Minute
}

// ObservabilityConfig configures metrics, tracing, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "onyesha"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// DefaultConfigPath returns the default config file path (~/.onyesha/config.json).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/onyesha.json" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".onyesha", "config.json")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. The API token and database DSN can be set in the file or
// overridden by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a ready-to-run Config for when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if envWS := os.Getenv("ONYESHA_WORKSPACE"); envWS != "" {
		c.Workspace = envWS
	}
	if envToken := os.Getenv("ONYESHA_API_TOKEN"); envToken != "" {
		c.Server.APIToken = envToken
	}
	if envDSN := os.Getenv("ONYESHA_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

func (c *Config) validate() error {
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set ONYESHA_DB_DSN env var)")
		}
	}
	switch c.Runtime.RuntimeDriver() {
	case "cli", "docker":
		// valid
	default:
		return fmt.Errorf("runtime.driver %q is not supported (use cli or docker)", c.Runtime.Driver)
	}
	if c.Ports.Start < 0 || c.Ports.End < 0 {
		return fmt.Errorf("ports.start and ports.end must not be negative")
	}
	if c.Ports.Start > 0 && c.Ports.End > 0 && c.Ports.End < c.Ports.Start {
		return fmt.Errorf("ports.end must not be below ports.start")
	}
	if c.Preview.MaxActive < 0 {
		return fmt.Errorf("preview.max_active must not be negative")
	}
	if c.Runtime.MaxMemoryMB < 0 {
		return fmt.Errorf("runtime.max_memory_mb must not be negative")
	}
	return nil
}
