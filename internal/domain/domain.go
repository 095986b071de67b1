// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Tenant is the isolation boundary. Every record, actor and uniqueness
// constraint is scoped by TenantID.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actor is a user identity within a tenant.
// ExternalID is the opaque login/user name used by callers (e.g. "jane.smith").
type Actor struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ExternalID string
	Email      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Deleted reports whether the actor has been soft-deleted.
func (a *Actor) Deleted() bool {
	return a != nil && a.DeletedAt != nil
}

// Record is a single business entity (teacher, attendance entry, ...).
// Fields holds the business attributes declared by the entity's descriptor;
// the remaining attributes are maintained by the integrity engine.
type Record struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	EntityType string
	Fields     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time // nil = live
	CreatedBy  *uuid.UUID
	Version    int64 // Incremented on every mutation; used for conditional updates.
}

// Deleted reports whether the record has been soft-deleted.
func (r *Record) Deleted() bool {
	return r != nil && r.DeletedAt != nil
}

// Clone returns a copy of the record that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = maps.Clone(r.Fields)
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	if r.CreatedBy != nil {
		id := *r.CreatedBy
		c.CreatedBy = &id
	}
	return &c
}

// Operation names a mutation recorded in the audit trail.
type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpRestore Operation = "restore"
)

// AuditEntry is a single immutable entry in the audit trail.
type AuditEntry struct {
	EntityType string     `json:"entity_type"`
	RecordID   uuid.UUID  `json:"record_id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Operation  Operation  `json:"operation"`
	Timestamp  time.Time  `json:"timestamp"`
}

// UniqueKey is one resolved per-tenant uniqueness key of a record:
// the key set name (comma-joined field names) and its canonical value.
type UniqueKey struct {
	KeySet string
	Value  string
}
