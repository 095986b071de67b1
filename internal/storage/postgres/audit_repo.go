package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
)

// AuditRepository implements storage.AuditStore.
// Append-only: no Update or Delete methods exist on this type.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a single audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	model := toAuditModel(entry)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit entry: %w", translateError(err))
	}
	return nil
}

// Query returns a tenant's audit entries, newest first.
// If recordID is not uuid.Nil, filters to that record. Limit defaults to 100.
func (r *AuditRepository) Query(ctx context.Context, tenantID, recordID uuid.UUID, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("occurred_at DESC").
		Limit(limit)

	if recordID != uuid.Nil {
		q = q.Where("record_id = ?", recordID)
	}

	var models []AuditEntryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", translateError(err))
	}

	entries := make([]domain.AuditEntry, len(models))
	for i := range models {
		entries[i] = toAuditDomain(&models[i])
	}
	return entries, nil
}

var _ storage.AuditStore = (*AuditRepository)(nil)
