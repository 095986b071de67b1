// Package storage defines the transactional row store the integrity engine runs on.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production).
// Both implement the same interfaces on top of the same GORM models.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbukumbu/internal/domain"
)

// Sentinel errors returned by every backend. They never leave the engine;
// it maps them onto its own error taxonomy.
var (
	ErrNotFound        = errors.New("not found")
	ErrUniqueViolation = errors.New("unique constraint violation")
	ErrStale           = errors.New("record changed concurrently")
	ErrTransient       = errors.New("transient storage failure")
)

// Store is the unified persistence interface.
type Store interface {
	// InTx runs fn inside a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Tenants() TenantStore
	Actors() ActorStore
	Audit() AuditStore

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Tx is the set of record operations available inside a transaction.
// Every method is scoped by tenant; a record of another tenant behaves
// exactly like a missing one.
type Tx interface {
	// Get loads a record by id regardless of deletion state.
	Get(ctx context.Context, tenantID uuid.UUID, entityType string, id uuid.UUID) (*domain.Record, error)
	// Insert persists a new record together with its uniqueness keys.
	// A key already held by another record yields ErrUniqueViolation.
	Insert(ctx context.Context, rec *domain.Record, keys []domain.UniqueKey) error
	// Update writes rec if the stored version still equals expectVersion
	// (ErrStale otherwise) and replaces the record's uniqueness keys with keys.
	Update(ctx context.Context, rec *domain.Record, expectVersion int64, keys []domain.UniqueKey) error
	// Scan returns records matching q. q.TenantID is mandatory.
	Scan(ctx context.Context, q Query) ([]*domain.Record, error)
	// KeyOwner returns the id of the record currently holding a uniqueness key.
	KeyOwner(ctx context.Context, tenantID uuid.UUID, entityType string, key domain.UniqueKey) (uuid.UUID, bool, error)
	// ResolveActor looks an actor up by id across tenants; the caller compares tenants.
	ResolveActor(ctx context.Context, actorID uuid.UUID) (*domain.Actor, error)
}

// Query is a tenant-scoped scan over one entity type.
// It is built by the query filter layer, never by callers directly.
type Query struct {
	TenantID       uuid.UUID
	EntityType     string
	IDs            []uuid.UUID
	CreatedBy      *uuid.UUID
	Equals         map[string]any // Business field equality (JSON fields).
	IncludeDeleted bool
	Limit          int
	Offset         int
	Descending     bool // Order by created_at descending.
}

// TenantStore manages tenants. Delete is the only hard delete in the system
// and cascades to every record, key, actor and audit entry of the tenant.
type TenantStore interface {
	Create(ctx context.Context, name string) (*domain.Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
	List(ctx context.Context) ([]*domain.Tenant, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ActorStore manages actors within a tenant.
type ActorStore interface {
	Create(ctx context.Context, tenantID uuid.UUID, externalID, email string) (*domain.Actor, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Actor, error)
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*domain.Actor, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*domain.Actor, error)
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
}

// AuditStore is an append-only store for audit entries.
// No update or delete methods: immutability is enforced at the interface level.
type AuditStore interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	// Query returns a tenant's entries newest first; recordID == uuid.Nil means all records.
	Query(ctx context.Context, tenantID, recordID uuid.UUID, limit int) ([]domain.AuditEntry, error)
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
