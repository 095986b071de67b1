package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
)

// TenantRepository manages tenant records.
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a TenantRepository.
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create registers a new active tenant. The slug is derived from name and
// must be unique; a clash yields storage.ErrUniqueViolation.
func (r *TenantRepository) Create(ctx context.Context, name string) (*domain.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}
	tenant := TenantModel{
		ID:     uuid.New(),
		Name:   name,
		Slug:   toSlug(name),
		Active: true,
	}
	if err := r.db.WithContext(ctx).Create(&tenant).Error; err != nil {
		return nil, fmt.Errorf("creating tenant %q: %w", name, translateError(err))
	}
	return toTenantDomain(&tenant), nil
}

// Get retrieves a tenant by ID.
func (r *TenantRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	var tenant TenantModel
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return toTenantDomain(&tenant), nil
}

// GetBySlug retrieves a tenant by its slug.
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	var tenant TenantModel
	if err := r.db.WithContext(ctx).First(&tenant, "slug = ?", toSlug(slug)).Error; err != nil {
		return nil, translateError(err)
	}
	return toTenantDomain(&tenant), nil
}

// List returns all tenants ordered by name.
func (r *TenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	var models []TenantModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing tenants: %w", translateError(err))
	}
	out := make([]*domain.Tenant, len(models))
	for i := range models {
		out[i] = toTenantDomain(&models[i])
	}
	return out, nil
}

// SetActive suspends or reactivates a tenant.
func (r *TenantRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&TenantModel{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("updating tenant %s: %w", id, translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a tenant and everything it owns in one transaction.
// Children are deleted explicitly so SQLite databases opened without
// foreign key enforcement are purged too.
func (r *TenantRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&AuditEntryModel{}, &UniqueKeyModel{}, &RecordModel{}, &ActorModel{}} {
			if err := tx.Scopes(TenantScope(id)).Delete(model).Error; err != nil {
				return fmt.Errorf("purging %T: %w", model, err)
			}
		}
		result := tx.Delete(&TenantModel{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("deleting tenant %s: %w", id, translateError(err))
	}
	return nil
}

func toSlug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}

var _ storage.TenantStore = (*TenantRepository)(nil)
