package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/kumbukumbu/internal/audit"
	"github.com/jkaninda/kumbukumbu/internal/config"
	"github.com/jkaninda/kumbukumbu/internal/descriptor"
	"github.com/jkaninda/kumbukumbu/internal/engine"
	"github.com/jkaninda/kumbukumbu/internal/observability"
	"github.com/jkaninda/kumbukumbu/internal/storage"
	pgstore "github.com/jkaninda/kumbukumbu/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/kumbukumbu/internal/storage/sqlite"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

// SharedComponents holds the initialized subsystems every command needs.
// Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    storage.Store // Unified store (SQLite or PostgreSQL).
	Registry *descriptor.Registry
	Audit    *audit.Writer
	Engine   engine.Service // Instrumented when observability is enabled.
	Resolver *tenant.Resolver
	Obs      *observability.Observability

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig reads the config named by --config or KUMBUKUMBU_CONFIG and
// falls back to defaults when no file exists at the default location.
func loadConfig() (*config.Config, error) {
	path := goutils.Env("KUMBUKUMBU_CONFIG", configPath)
	if path != "" {
		return config.Load(path)
	}
	return config.LoadOrDefault(config.DefaultConfigPath())
}

// newLogger returns a JSON logger on stderr at the configured level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// setup loads config and initializes every subsystem. Callers must call
// sc.Cleanup() when done.
func setup() (*SharedComponents, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return initShared(cfg, newLogger(cfg.LogLevel))
}

// initShared performs the initialization shared by all commands.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	if obs != nil && cfg.Observability.Health != nil && cfg.Observability.Health.IncludeDB {
		obs.Health.AddCheck("database", store.Ping)
	}

	// Entity descriptors.
	reg, err := initRegistry(cfg)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("loading entity descriptors: %w", err)
	}
	sc.Registry = reg

	// Audit trail.
	writer, err := initAudit(cfg, store, obs, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing audit: %w", err)
	}
	sc.Audit = writer
	sc.addCleanup(func() {
		if err := writer.Close(); err != nil {
			logger.Error("closing audit sinks", slog.String("error", err.Error()))
		}
	})

	// Integrity engine. Seals the registry.
	eng, err := engine.New(engine.Options{
		Store:        store,
		Registry:     reg,
		Audit:        writer,
		Logger:       logger,
		MaxRetries:   cfg.Engine.Retries(),
		RetryInitial: cfg.Engine.RetryInitial(),
		Timeout:      cfg.Engine.Timeout(),
	})
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing engine: %w", err)
	}
	sc.Engine = obs.Instrument(eng)
	sc.Resolver = tenant.NewResolver(store.Tenants())

	logger.Debug("engine initialized", slog.Any("entities", reg.Names()))
	return sc, nil
}

func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	driver := cfg.StorageDriverName()

	switch driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	sqliteCfg := sqlitestore.Config{Path: cfg.DatabasePath()}
	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
		sqliteCfg.BusyTimeout = time.Duration(cfg.Storage.SQLite.BusyTimeoutMS) * time.Millisecond
	}
	return sqlitestore.Open(sqliteCfg, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage == nil || cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or KUMBUKUMBU_DB_DSN)")
	}
	pg := cfg.Storage.Postgres

	pgDB, err := pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: pg.ConnMaxLifetime(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return pgstore.NewStore(pgDB), nil
}

func initRegistry(cfg *config.Config) (*descriptor.Registry, error) {
	reg := descriptor.NewRegistry()
	if cfg.Engine.BuiltinsEnabled() {
		if err := descriptor.RegisterBuiltins(reg); err != nil {
			return nil, err
		}
	}
	if err := descriptor.FromConfig(reg, cfg.Entities); err != nil {
		return nil, err
	}
	return reg, nil
}

func initAudit(cfg *config.Config, store storage.Store, obs *observability.Observability, logger *slog.Logger) (*audit.Writer, error) {
	var sinks []audit.Sink
	for _, name := range cfg.Audit.EnabledSinks() {
		switch name {
		case "store":
			sinks = append(sinks, audit.NewStoreSink(store.Audit()))
		case "file":
			fs, err := audit.NewFileSink(cfg.AuditLogPath())
			if err != nil {
				for _, s := range sinks {
					if c, ok := s.(interface{ Close() error }); ok {
						_ = c.Close()
					}
				}
				return nil, err
			}
			sinks = append(sinks, fs)
		case "log":
			sinks = append(sinks, audit.NewLogSink(logger))
		default:
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}
	logger.Debug("audit sinks initialized", slog.Any("sinks", cfg.Audit.EnabledSinks()))
	return audit.NewWriter(logger, sinks...).WithFailureCounter(obs.MetricsOrNil().AuditFailures()), nil
}
