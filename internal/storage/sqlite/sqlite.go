// Package sqlite implements the unified Store interface using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
//
// Key differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent readers
//   - A single pooled connection serializes writers instead of SELECT FOR UPDATE
//   - JSON columns use TEXT type (SQLite stores JSON as text natively)
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/jkaninda/kumbukumbu/internal/storage"
	pgstore "github.com/jkaninda/kumbukumbu/internal/storage/postgres"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
	BusyTimeout time.Duration
}

// Store implements storage.Store backed by SQLite.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string

	// Sub-store instances (created lazily on first access).
	mu      sync.Mutex
	tenants storage.TenantStore
	actors  storage.ActorStore
	audit   storage.AuditStore
}

// Open creates a new SQLite-backed Store.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	// Build DSN with pragmas.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		cfg.Path, journalMode, busy.Milliseconds())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         pgstore.NewGormLogger(slogger),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	// One connection: transactions run one at a time, so a writer never
	// observes a snapshot another writer has already invalidated.
	sqlDB.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: slogger,
		path:   cfg.Path,
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return s, nil
}

// InTx runs fn in a transaction on the single connection.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return pgstore.RunInTx(ctx, s.db, fn)
}

// Migrate runs GORM AutoMigrate to create/update tables.
// Uses the same models as the PostgreSQL backend.
func (s *Store) Migrate(ctx context.Context) error {
	if err := pgstore.AutoMigrate(s.db.WithContext(ctx)); err != nil {
		return fmt.Errorf("sqlite auto-migration: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// GormDB returns the underlying GORM DB.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

// --- Sub-store accessors ---
// All sub-stores reuse the PostgreSQL repository implementations
// since they operate on the same GORM models. GORM's SQLite dialect
// handles the SQL differences transparently.

func (s *Store) Tenants() storage.TenantStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants == nil {
		s.tenants = pgstore.NewTenantRepository(s.db)
	}
	return s.tenants
}

func (s *Store) Actors() storage.ActorStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actors == nil {
		s.actors = pgstore.NewActorRepository(s.db)
	}
	return s.actors
}

func (s *Store) Audit() storage.AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = pgstore.NewAuditRepository(s.db)
	}
	return s.audit
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
