// Package config handles loading and validating kumbukumbu configuration.
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

// Config is the root configuration for kumbukumbu.
type Config struct {
	DataDir       string                  `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`           // Persistent data directory. Default: ~/.kumbukumbu/data. Override: KUMBUKUMBU_DATA_DIR env var.
	LogLevel      string                  `json:"log_level,omitempty" yaml:"log_level,omitempty"`         // debug, info (default), warn, error. Override: KUMBUKUMBU_LOG_LEVEL.
	Storage       *StorageConfig          `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from data_dir)
	Audit         *AuditConfig            `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = store sink only
	Engine        *EngineConfig           `json:"engine,omitempty" yaml:"engine,omitempty"`               // nil = defaults
	Observability *ObservabilityConfig    `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Ops           *OpsConfig              `json:"ops,omitempty" yaml:"ops,omitempty"`                     // nil = defaults for `serve`
	Entities      map[string]EntityConfig `json:"entities,omitempty" yaml:"entities,omitempty"`           // Extra entity descriptors.
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
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
	Path          string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data_dir.
	JournalMode   string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
	BusyTimeoutMS int    `json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ConnMaxLifetime returns the configured connection lifetime, zero when unset.
func (p *PostgresStorageConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(p.ConnMaxLifetimeS) * time.Second
}

// AuditConfig selects where audit entries go.
type AuditConfig struct {
	Sinks    []string `json:"sinks" yaml:"sinks"`                             // Any of "store", "file", "log". Default: ["store"].
	FilePath string   `json:"file_path,omitempty" yaml:"file_path,omitempty"` // JSONL path for the file sink. Default: derived from data_dir.
}

// EnabledSinks returns the configured sinks, defaulting to the store sink.
func (a *AuditConfig) EnabledSinks() []string {
	if a == nil || len(a.Sinks) == 0 {
		return []string{"store"}
	}
	return a.Sinks
}

// EngineConfig tunes the integrity engine.
type EngineConfig struct {
	MaxRetries       int  `json:"max_retries" yaml:"max_retries"`                 // Attempts for transient storage failures. Default: 5
	RetryInitialMS   int  `json:"retry_initial_ms" yaml:"retry_initial_ms"`       // First backoff interval. Default: 10
	DisableBuiltins  bool `json:"disable_builtins" yaml:"disable_builtins"`       // Skip the built-in school descriptors.
	OperationTimeout int  `json:"operation_timeout_s" yaml:"operation_timeout_s"` // Per-mutation deadline in seconds. 0 = none.
}

// Retries returns the attempt budget for transient failures.
func (e *EngineConfig) Retries() int {
	if e != nil && e.MaxRetries > 0 {
		return e.MaxRetries
	}
	return 5
}

// RetryInitial returns the first backoff interval.
func (e *EngineConfig) RetryInitial() time.Duration {
	if e != nil && e.RetryInitialMS > 0 {
		return time.Duration(e.RetryInitialMS) * time.Millisecond
	}
	return 10 * time.Millisecond
}

// Timeout returns the per-mutation deadline, zero for none.
func (e *EngineConfig) Timeout() time.Duration {
	if e != nil && e.OperationTimeout > 0 {
		return time.Duration(e.OperationTimeout) * time.Second
	}
	return 0
}

// BuiltinsEnabled reports whether the built-in descriptors are registered.
func (e *EngineConfig) BuiltinsEnabled() bool {
	return e == nil || !e.DisableBuiltins
}

// ObservabilityConfig configures metrics, tracing and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kumbukumbu"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB bool `json:"include_db" yaml:"include_db"`
}

// AnomalyConfig configures fault-rate warnings for engine operations.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Default: 300
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // 0.0–1.0, 0 = never warn
}

// OpsConfig configures the operations HTTP endpoints started by `serve`.
type OpsConfig struct {
	ListenAddr       string `json:"listen_addr" yaml:"listen_addr"`               // Default: ":9090"
	ReadTimeoutS     int    `json:"read_timeout_s" yaml:"read_timeout_s"`         // Default: 10
	WriteTimeoutS    int    `json:"write_timeout_s" yaml:"write_timeout_s"`       // Default: 10
	ShutdownTimeoutS int    `json:"shutdown_timeout_s" yaml:"shutdown_timeout_s"` // Default: 15
}

// Addr returns the listen address.
func (o *OpsConfig) Addr() string {
	if o != nil && o.ListenAddr != "" {
		return o.ListenAddr
	}
	return ":9090"
}

// ReadTimeout returns the HTTP read timeout.
func (o *OpsConfig) ReadTimeout() time.Duration {
	if o != nil && o.ReadTimeoutS > 0 {
		return time.Duration(o.ReadTimeoutS) * time.Second
	}
	return 10 * time.Second
}

// WriteTimeout returns the HTTP write timeout.
func (o *OpsConfig) WriteTimeout() time.Duration {
	if o != nil && o.WriteTimeoutS > 0 {
		return time.Duration(o.WriteTimeoutS) * time.Second
	}
	return 10 * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (o *OpsConfig) ShutdownTimeout() time.Duration {
	if o != nil && o.ShutdownTimeoutS > 0 {
		return time.Duration(o.ShutdownTimeoutS) * time.Second
	}
	return 15 * time.Second
}

// EntityConfig declares an entity type in the config file.
type EntityConfig struct {
	RequiredFields       []string               `json:"required_fields" yaml:"required_fields"`
	UniqueKeys           [][]string             `json:"unique_keys" yaml:"unique_keys"`
	ActorReferenceFields []string               `json:"actor_reference_fields" yaml:"actor_reference_fields"`
	Fields               map[string]FieldConfig `json:"fields,omitempty" yaml:"fields,omitempty"` // Optional; when set, unknown fields are rejected.
}

// FieldConfig declares one typed business field.
type FieldConfig struct {
	Kind      string   `json:"kind" yaml:"kind"` // string, number, bool, date, email, enum, uuid, list, json
	Values    []string `json:"values,omitempty" yaml:"values,omitempty"`
	NotFuture bool     `json:"not_future,omitempty" yaml:"not_future,omitempty"`
	Elem      string   `json:"elem,omitempty" yaml:"elem,omitempty"`         // Item kind of a list field.
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`           // Inclusive number bounds.
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Positive  bool     `json:"positive,omitempty" yaml:"positive,omitempty"` // Number must be above zero.
}

// DefaultConfigPath returns the default config file path (~/.kumbukumbu/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/kumbukumbu.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".kumbukumbu", "config.yaml")
}

// Default returns the configuration used when no config file exists:
// SQLite under the data directory, store audit sink, built-in entities.
func Default() (*Config, error) {
	var cfg Config
	return finish(&cfg)
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
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
	return finish(&cfg)
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if resolved, err := resolvePath(path); err == nil {
			if _, err := os.Stat(resolved); err == nil {
				return Load(path)
			}
		}
	}
	return Default()
}

func finish(cfg *Config) (*Config, error) {
	// Environment variable overrides: env vars take precedence over config values.
	if dsn := os.Getenv("KUMBUKUMBU_DB_DSN"); dsn != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		cfg.Storage.Driver = "postgres"
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = dsn
	}

	// Data directory override from environment.
	if envDD := os.Getenv("KUMBUKUMBU_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envLevel := os.Getenv("KUMBUKUMBU_LOG_LEVEL"); envLevel != "" {
		cfg.LogLevel = envLevel
	}

	// Resolve DataDir default.
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".kumbukumbu", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
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

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".kumbukumbu", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path, explicit or under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		if resolved, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return resolved
		}
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "kumbukumbu.db")
}

// AuditLogPath returns the JSONL audit file path, explicit or under the data directory.
func (c *Config) AuditLogPath() string {
	if c.Audit != nil && c.Audit.FilePath != "" {
		if resolved, err := resolvePath(c.Audit.FilePath); err == nil {
			return resolved
		}
		return c.Audit.FilePath
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

var (
	validLogLevels  = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	validSinks      = map[string]bool{"store": true, "file": true, "log": true}
	validFieldKinds = map[string]bool{"string": true, "number": true, "bool": true, "date": true, "email": true, "enum": true, "uuid": true, "list": true, "json": true}
)

func (c *Config) validate() error {
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level %q is not supported (use debug, info, warn or error)", c.LogLevel)
	}
	// Storage driver validation.
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite":
			// valid
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (or set KUMBUKUMBU_DB_DSN)")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Audit != nil {
		for i, sink := range c.Audit.Sinks {
			if !validSinks[sink] {
				return fmt.Errorf("audit.sinks[%d]: %q is not supported (use store, file or log)", i, sink)
			}
		}
	}
	if c.Engine != nil {
		if c.Engine.MaxRetries < 0 {
			return fmt.Errorf("engine.max_retries must not be negative")
		}
		if c.Engine.OperationTimeout < 0 {
			return fmt.Errorf("engine.operation_timeout_s must not be negative")
		}
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch c.Observability.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", c.Observability.Tracing.Protocol)
		}
	}
	if c.Observability != nil && c.Observability.Anomaly != nil {
		if r := c.Observability.Anomaly.ErrorRateThreshold; r < 0 || r > 1 {
			return fmt.Errorf("observability.anomaly.error_rate_threshold must be between 0 and 1, got %v", r)
		}
	}
	// Entity declarations: shape only; the descriptor registry checks the rest.
	for name, ent := range c.Entities {
		if name == "" {
			return fmt.Errorf("entities: entity type name must not be empty")
		}
		for field, spec := range ent.Fields {
			if !validFieldKinds[spec.Kind] {
				return fmt.Errorf("entities.%s.fields.%s: kind %q is not supported", name, field, spec.Kind)
			}
			if spec.Elem != "" && (spec.Kind != "list" || spec.Elem == "list" || !validFieldKinds[spec.Elem]) {
				return fmt.Errorf("entities.%s.fields.%s: elem %q needs a list of a scalar kind", name, field, spec.Elem)
			}
			if (spec.Kind == "enum" || spec.Elem == "enum") && len(spec.Values) == 0 {
				return fmt.Errorf("entities.%s.fields.%s: enum requires values", name, field)
			}
		}
	}
	return nil
}
