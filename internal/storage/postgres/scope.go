package postgres

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantScope returns a GORM scope that filters by tenant_id.
// Must be applied to every query in every repository method for multi-tenancy.
func TenantScope(tenantID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// EntityScope restricts a query to one entity type.
func EntityScope(entityType string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("entity_type = ?", entityType)
	}
}

// LiveScope hides soft-deleted rows.
func LiveScope(db *gorm.DB) *gorm.DB {
	return db.Where("deleted_at IS NULL")
}
