package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jkaninda/kumbukumbu/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the existing DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu      sync.Mutex
	tenants storage.TenantStore
	actors  storage.ActorStore
	audit   storage.AuditStore
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return RunInTx(ctx, s.pgDB.GormDB(), fn)
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := AutoMigrate(s.pgDB.GormDB().WithContext(ctx)); err != nil {
		return fmt.Errorf("postgres auto-migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB returns the underlying GORM DB for direct access when needed.
func (s *Store) GormDB() *DB {
	return s.pgDB
}

// --- Sub-store accessors ---

func (s *Store) Tenants() storage.TenantStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants == nil {
		s.tenants = NewTenantRepository(s.pgDB.GormDB())
	}
	return s.tenants
}

func (s *Store) Actors() storage.ActorStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actors == nil {
		s.actors = NewActorRepository(s.pgDB.GormDB())
	}
	return s.actors
}

func (s *Store) Audit() storage.AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = NewAuditRepository(s.pgDB.GormDB())
	}
	return s.audit
}

var _ storage.Store = (*Store)(nil)
