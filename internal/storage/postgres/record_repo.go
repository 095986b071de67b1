package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
)

// RecordRepository implements storage.Tx on top of a GORM handle that is
// already inside a transaction.
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a RecordRepository bound to tx.
func NewRecordRepository(tx *gorm.DB) *RecordRepository {
	return &RecordRepository{db: tx}
}

// RunInTx runs fn in a GORM transaction and translates driver errors.
// Both backends use it to implement storage.Store.InTx.
func RunInTx(ctx context.Context, db *gorm.DB, fn func(storage.Tx) error) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRecordRepository(tx))
	})
	return translateError(err)
}

// Get loads a record by id within the tenant, regardless of deletion state.
// On PostgreSQL the row is locked for the rest of the transaction.
func (r *RecordRepository) Get(ctx context.Context, tenantID uuid.UUID, entityType string, id uuid.UUID) (*domain.Record, error) {
	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID), EntityScope(entityType))
	if r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var m RecordModel
	if err := q.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("loading record %s: %w", id, translateError(err))
	}
	return toRecordDomain(&m), nil
}

// Insert persists a new record and claims its uniqueness keys.
func (r *RecordRepository) Insert(ctx context.Context, rec *domain.Record, keys []domain.UniqueKey) error {
	m := toRecordModel(rec)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("inserting record: %w", translateError(err))
	}
	return r.claimKeys(ctx, rec, keys)
}

// Update writes rec when the stored version still equals expectVersion and
// replaces the record's uniqueness keys.
func (r *RecordRepository) Update(ctx context.Context, rec *domain.Record, expectVersion int64, keys []domain.UniqueKey) error {
	fields := datatypes.JSONMap(rec.Fields)
	if fields == nil {
		fields = datatypes.JSONMap{}
	}
	result := r.db.WithContext(ctx).
		Model(&RecordModel{}).
		Scopes(TenantScope(rec.TenantID), EntityScope(rec.EntityType)).
		Where("id = ? AND version = ?", rec.ID, expectVersion).
		Updates(map[string]any{
			"fields":     fields,
			"version":    rec.Version,
			"updated_at": rec.UpdatedAt,
			"deleted_at": rec.DeletedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("updating record %s: %w", rec.ID, translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return storage.ErrStale
	}

	if err := r.db.WithContext(ctx).
		Where("record_id = ?", rec.ID).
		Delete(&UniqueKeyModel{}).Error; err != nil {
		return fmt.Errorf("releasing keys of %s: %w", rec.ID, translateError(err))
	}
	return r.claimKeys(ctx, rec, keys)
}

func (r *RecordRepository) claimKeys(ctx context.Context, rec *domain.Record, keys []domain.UniqueKey) error {
	if len(keys) == 0 {
		return nil
	}
	models := toKeyModels(rec, keys)
	if err := r.db.WithContext(ctx).Create(&models).Error; err != nil {
		return fmt.Errorf("claiming keys of %s: %w", rec.ID, translateError(err))
	}
	return nil
}

// Scan returns the records matching q, oldest first unless q.Descending.
func (r *RecordRepository) Scan(ctx context.Context, q storage.Query) ([]*domain.Record, error) {
	if q.TenantID == uuid.Nil {
		return nil, fmt.Errorf("scan without tenant scope")
	}

	db := r.db.WithContext(ctx).
		Model(&RecordModel{}).
		Scopes(TenantScope(q.TenantID), EntityScope(q.EntityType))
	if !q.IncludeDeleted {
		db = db.Scopes(LiveScope)
	}
	if len(q.IDs) > 0 {
		db = db.Where("id IN ?", q.IDs)
	}
	if q.CreatedBy != nil {
		db = db.Where("created_by = ?", *q.CreatedBy)
	}

	names := make([]string, 0, len(q.Equals))
	for name := range q.Equals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		expr, err := fieldEquals(r.db.Dialector.Name(), name, q.Equals[name])
		if err != nil {
			return nil, fmt.Errorf("filtering %s records on %s: %w", q.EntityType, name, err)
		}
		db = db.Where(expr)
	}

	if q.Descending {
		db = db.Order("created_at DESC").Order("id DESC")
	} else {
		db = db.Order("created_at ASC").Order("id ASC")
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if q.Offset > 0 {
		db = db.Offset(q.Offset)
	}

	var models []RecordModel
	if err := db.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("scanning %s records: %w", q.EntityType, translateError(err))
	}

	out := make([]*domain.Record, len(models))
	for i := range models {
		out[i] = toRecordDomain(&models[i])
	}
	return out, nil
}

// fieldEquals matches one business field. PostgreSQL uses jsonb containment,
// which compares numbers by value whatever their spelling; SQLite compares
// JSON_EXTRACT against a native SQL value.
func fieldEquals(dialect, name string, value any) (clause.Expression, error) {
	if dialect == "postgres" {
		raw, err := json.Marshal(map[string]any{name: value})
		if err != nil {
			return nil, err
		}
		return clause.Expr{SQL: "fields @> ?::jsonb", Vars: []any{string(raw)}}, nil
	}
	if n, ok := value.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			value = i
		} else if f, err := n.Float64(); err == nil {
			value = f
		}
	}
	return datatypes.JSONQuery("fields").Equals(value, name), nil
}

// KeyOwner returns the record currently holding key within the tenant.
func (r *RecordRepository) KeyOwner(ctx context.Context, tenantID uuid.UUID, entityType string, key domain.UniqueKey) (uuid.UUID, bool, error) {
	var m UniqueKeyModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID), EntityScope(entityType)).
		Where("key_set = ? AND key_value = ?", key.KeySet, key.Value).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("looking up key %s: %w", key.KeySet, translateError(err))
	}
	return m.RecordID, true, nil
}

// ResolveActor loads an actor by id without tenant scoping; the engine
// compares the actor's tenant with the acting tenant itself.
func (r *RecordRepository) ResolveActor(ctx context.Context, actorID uuid.UUID) (*domain.Actor, error) {
	var m ActorModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", actorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("resolving actor %s: %w", actorID, translateError(err))
	}
	return toActorDomain(&m), nil
}

var _ storage.Tx = (*RecordRepository)(nil)
