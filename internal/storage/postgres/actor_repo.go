package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
)

// ActorRepository manages actor records within a tenant.
type ActorRepository struct {
	db *gorm.DB
}

// NewActorRepository creates an ActorRepository.
func NewActorRepository(db *gorm.DB) *ActorRepository {
	return &ActorRepository{db: db}
}

// Create registers an actor. The combination of (tenant_id, external_id)
// is unique; a clash yields storage.ErrUniqueViolation.
func (r *ActorRepository) Create(ctx context.Context, tenantID uuid.UUID, externalID, email string) (*domain.Actor, error) {
	if externalID == "" {
		return nil, fmt.Errorf("actor external id is required")
	}
	actor := ActorModel{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ExternalID: externalID,
		Email:      email,
	}
	if err := r.db.WithContext(ctx).Create(&actor).Error; err != nil {
		return nil, fmt.Errorf("creating actor %q: %w", externalID, translateError(err))
	}
	return toActorDomain(&actor), nil
}

// Get retrieves an actor of the tenant by internal ID, deleted or not.
func (r *ActorRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Actor, error) {
	var actor ActorModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		First(&actor, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return toActorDomain(&actor), nil
}

// GetByExternalID retrieves an actor by tenant and external ID.
func (r *ActorRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*domain.Actor, error) {
	var actor ActorModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("external_id = ?", externalID).
		First(&actor).Error
	if err != nil {
		return nil, translateError(err)
	}
	return toActorDomain(&actor), nil
}

// List returns the tenant's actors, deleted ones included, oldest first.
func (r *ActorRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*domain.Actor, error) {
	var models []ActorModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing actors: %w", translateError(err))
	}
	out := make([]*domain.Actor, len(models))
	for i := range models {
		out[i] = toActorDomain(&models[i])
	}
	return out, nil
}

// SoftDelete marks an actor deleted. Deleting an already deleted actor is a no-op.
func (r *ActorRepository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	if _, err := r.Get(ctx, tenantID, id); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).
		Model(&ActorModel{}).
		Scopes(TenantScope(tenantID), LiveScope).
		Where("id = ?", id).
		Update("deleted_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("deleting actor %s: %w", id, translateError(err))
	}
	return nil
}

var _ storage.ActorStore = (*ActorRepository)(nil)
