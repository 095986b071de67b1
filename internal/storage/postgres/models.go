package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TenantModel maps to the "tenants" table.
// Deleting a tenant cascades to everything it owns.
type TenantModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null"`
	Slug      string    `gorm:"not null;uniqueIndex"`
	Active    bool      `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Actors       []ActorModel      `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
	Records      []RecordModel     `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
	UniqueKeys   []UniqueKeyModel  `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
	AuditEntries []AuditEntryModel `gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
}

func (TenantModel) TableName() string { return "tenants" }

// ActorModel maps to the "actors" table.
// ExternalID is unique per tenant, not globally.
type ActorModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_actors_tenant_external"`
	ExternalID string     `gorm:"not null;uniqueIndex:idx_actors_tenant_external"`
	Email      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time `gorm:"index"` // Managed explicitly; resolution must see deleted actors.
}

func (ActorModel) TableName() string { return "actors" }

// RecordModel maps to the "entity_records" table, shared by every entity type.
// Timestamps are stamped by the integrity engine, never by GORM.
type RecordModel struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID         `gorm:"type:uuid;not null;index:idx_records_scope,priority:1"`
	EntityType string            `gorm:"not null;index:idx_records_scope,priority:2"`
	Fields     datatypes.JSONMap `gorm:"not null"`
	CreatedBy  *uuid.UUID        `gorm:"type:uuid;index"`
	Version    int64             `gorm:"not null"`
	CreatedAt  time.Time         `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt  time.Time         `gorm:"not null;autoUpdateTime:false"`
	DeletedAt  *time.Time        `gorm:"index"` // NULL = live.
}

func (RecordModel) TableName() string { return "entity_records" }

// UniqueKeyModel maps to the "entity_unique_keys" table.
// One row per live record per uniqueness key set; the composite primary key
// is what arbitrates concurrent writers.
type UniqueKeyModel struct {
	TenantID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	EntityType string    `gorm:"primaryKey"`
	KeySet     string    `gorm:"primaryKey"`
	KeyValue   string    `gorm:"primaryKey"`
	RecordID   uuid.UUID `gorm:"type:uuid;not null;index"`
}

func (UniqueKeyModel) TableName() string { return "entity_unique_keys" }

// AuditEntryModel maps to the "audit_entries" table.
// No UpdatedAt or DeletedAt: the audit trail is append-only and immutable.
type AuditEntryModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	EntityType string     `gorm:"not null"`
	RecordID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	ActorID    *uuid.UUID `gorm:"type:uuid"`
	Operation  string     `gorm:"not null"`
	Timestamp  time.Time  `gorm:"column:occurred_at;not null;index"`
}

func (AuditEntryModel) TableName() string { return "audit_entries" }
