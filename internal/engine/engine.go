// Package engine enforces tenant isolation, soft deletion, audit timestamps,
// actor reference integrity and per-tenant uniqueness for every entity type
// registered in a descriptor.Registry.
//
// The engine is stateless: each mutation is one storage transaction, and
// concurrent writers are arbitrated by the store's unique keys and version
// checks, never by in-process locks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbukumbu/internal/audit"
	"github.com/jkaninda/kumbukumbu/internal/descriptor"
	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/identity"
	"github.com/jkaninda/kumbukumbu/internal/query"
	"github.com/jkaninda/kumbukumbu/internal/storage"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

// Service is the integrity engine contract.
type Service interface {
	Create(ctx context.Context, tc tenant.Context, entityType string, fields map[string]any) (*domain.Record, error)
	Update(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID, changes map[string]any) (*domain.Record, error)
	SoftDelete(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID) (*domain.Record, error)
	Restore(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID) (*domain.Record, error)
	Get(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID, includeDeleted bool) (*domain.Record, error)
	List(ctx context.Context, tc tenant.Context, entityType string, pred query.Predicate, opts query.Options) ([]*domain.Record, error)
}

// ActorResolver looks actors up by id across tenants. storage.Tx satisfies it.
type ActorResolver interface {
	ResolveActor(ctx context.Context, actorID uuid.UUID) (*domain.Actor, error)
}

// Options configures an Engine. Store and Registry are required.
type Options struct {
	Store    storage.Store
	Registry *descriptor.Registry
	Identity identity.Provider // Default: identity.System{}
	Audit    *audit.Writer     // nil = no audit trail
	Logger   *slog.Logger      // Default: slog.Default()

	// Actors overrides actor resolution. When nil, actors are resolved inside
	// the mutation's transaction. An override must not use the same SQLite
	// store outside that transaction.
	Actors ActorResolver

	MaxRetries   int           // Attempts for transient failures. Default: 5
	RetryInitial time.Duration // First backoff interval. Default: 10ms
	Timeout      time.Duration // Per-operation deadline. 0 = caller's context only.
}

// Engine implements Service.
type Engine struct {
	store        storage.Store
	registry     *descriptor.Registry
	ids          identity.Provider
	audit        *audit.Writer
	logger       *slog.Logger
	actors       ActorResolver
	maxRetries   uint
	retryInitial time.Duration
	timeout      time.Duration
}

// New creates an Engine and seals its registry.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine: descriptor registry is required")
	}
	e := &Engine{
		store:        opts.Store,
		registry:     opts.Registry,
		ids:          opts.Identity,
		audit:        opts.Audit,
		logger:       opts.Logger,
		actors:       opts.Actors,
		maxRetries:   5,
		retryInitial: 10 * time.Millisecond,
		timeout:      opts.Timeout,
	}
	if e.ids == nil {
		e.ids = identity.System{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if opts.MaxRetries > 0 {
		e.maxRetries = uint(opts.MaxRetries)
	}
	if opts.RetryInitial > 0 {
		e.retryInitial = opts.RetryInitial
	}
	opts.Registry.Seal()
	return e, nil
}

// Create validates fields against the entity's descriptor and inserts a new record.
func (e *Engine) Create(ctx context.Context, tc tenant.Context, entityType string, fields map[string]any) (*domain.Record, error) {
	d, err := e.resolve(tc, entityType)
	if err != nil {
		return nil, err
	}
	input, err := normalize(fields)
	if err != nil {
		return nil, err
	}
	if err := stripCreateSystemFields(tc, input); err != nil {
		return nil, err
	}
	if err := checkFields(d, input, e.ids.Now()); err != nil {
		return nil, err
	}

	rec, err := run(ctx, e, func(ctx context.Context) (*domain.Record, error) {
		rec := &domain.Record{
			ID:         e.ids.NewID(),
			TenantID:   tc.TenantID(),
			EntityType: entityType,
			Fields:     maps.Clone(input),
			CreatedBy:  tc.ActorID(),
			Version:    1,
		}
		if err := checkSelfReferences(d, rec.ID, rec.Fields, rec.CreatedBy); err != nil {
			return nil, err
		}
		keys, err := uniqueKeys(d, rec.Fields)
		if err != nil {
			return nil, err
		}

		err = e.store.InTx(ctx, func(tx storage.Tx) error {
			actors := e.actorResolver(tx)
			if rec.CreatedBy != nil {
				if err := checkActor(ctx, actors, tc, descriptor.FieldCreatedBy, *rec.CreatedBy); err != nil {
					return err
				}
			}
			if err := checkReferenceFields(ctx, actors, tc, d, rec.Fields); err != nil {
				return err
			}
			if err := checkKeys(ctx, tx, rec.TenantID, entityType, rec.ID, keys); err != nil {
				return err
			}
			now := e.ids.Now()
			rec.CreatedAt, rec.UpdatedAt = now, now
			return tx.Insert(ctx, rec, keys)
		})
		if errors.Is(err, storage.ErrUniqueViolation) {
			return nil, e.resolveConflict(ctx, tc, entityType, rec.ID, keys, err)
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, tc, rec, domain.OpCreate)
	return rec, nil
}

// Update merges changes into a live record and re-validates it.
// A nil value removes the field. The change set {"deleted_at": nil} restores
// a soft-deleted record.
func (e *Engine) Update(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID, changes map[string]any) (*domain.Record, error) {
	if isRestore(changes) {
		return e.Restore(ctx, tc, entityType, id)
	}
	d, err := e.resolve(tc, entityType)
	if err != nil {
		return nil, err
	}
	input, err := normalize(changes)
	if err != nil {
		return nil, err
	}

	rec, err := run(ctx, e, func(ctx context.Context) (*domain.Record, error) {
		var (
			updated *domain.Record
			keys    []domain.UniqueKey
		)
		err := e.store.InTx(ctx, func(tx storage.Tx) error {
			current, err := e.load(ctx, tx, tc, entityType, id)
			if err != nil {
				return err
			}
			if current.Deleted() {
				return ErrNotFound
			}

			patch := maps.Clone(input)
			if err := stripUpdateSystemFields(tc, current, patch); err != nil {
				return err
			}
			merged := maps.Clone(current.Fields)
			for name, v := range patch {
				if v == nil {
					delete(merged, name)
				} else {
					merged[name] = v
				}
			}
			if err := checkFields(d, merged, e.ids.Now()); err != nil {
				return err
			}
			if err := checkSelfReferences(d, current.ID, merged, current.CreatedBy); err != nil {
				return err
			}
			if err := checkReferenceFields(ctx, e.actorResolver(tx), tc, d, merged); err != nil {
				return err
			}
			if keys, err = uniqueKeys(d, merged); err != nil {
				return err
			}
			if err := checkKeys(ctx, tx, current.TenantID, entityType, current.ID, keys); err != nil {
				return err
			}

			updated = current.Clone()
			updated.Fields = merged
			updated.UpdatedAt = e.stamp(current)
			updated.Version = current.Version + 1
			return tx.Update(ctx, updated, current.Version, keys)
		})
		if errors.Is(err, storage.ErrUniqueViolation) {
			return nil, e.resolveConflict(ctx, tc, entityType, id, keys, err)
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	})
	if err != nil {
		return nil, err
	}

	e.record(ctx, tc, rec, domain.OpUpdate)
	return rec, nil
}

// SoftDelete hides a record from default reads and releases its uniqueness
// keys. Deleting an already deleted record succeeds without changing it.
func (e *Engine) SoftDelete(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID) (*domain.Record, error) {
	if _, err := e.resolve(tc, entityType); err != nil {
		return nil, err
	}

	var changed bool
	rec, err := run(ctx, e, func(ctx context.Context) (*domain.Record, error) {
		changed = false
		var out *domain.Record
		err := e.store.InTx(ctx, func(tx storage.Tx) error {
			current, err := e.load(ctx, tx, tc, entityType, id)
			if err != nil {
				return err
			}
			if current.Deleted() {
				out = current
				return nil
			}
			out = current.Clone()
			now := e.stamp(current)
			out.UpdatedAt = now
			out.DeletedAt = &now
			out.Version = current.Version + 1
			changed = true
			return tx.Update(ctx, out, current.Version, nil)
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.record(ctx, tc, rec, domain.OpDelete)
	}
	return rec, nil
}

// Restore clears deleted_at on a soft-deleted record after re-checking its
// actor references and reclaiming its uniqueness keys. Restoring a live
// record succeeds without changing it.
func (e *Engine) Restore(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID) (*domain.Record, error) {
	d, err := e.resolve(tc, entityType)
	if err != nil {
		return nil, err
	}

	var changed bool
	rec, err := run(ctx, e, func(ctx context.Context) (*domain.Record, error) {
		changed = false
		var (
			out  *domain.Record
			keys []domain.UniqueKey
		)
		err := e.store.InTx(ctx, func(tx storage.Tx) error {
			current, err := e.load(ctx, tx, tc, entityType, id)
			if err != nil {
				return err
			}
			if !current.Deleted() {
				out = current
				return nil
			}
			if err := checkReferenceFields(ctx, e.actorResolver(tx), tc, d, current.Fields); err != nil {
				return err
			}
			if keys, err = uniqueKeys(d, current.Fields); err != nil {
				return err
			}
			if err := checkKeys(ctx, tx, current.TenantID, entityType, current.ID, keys); err != nil {
				return err
			}

			out = current.Clone()
			out.DeletedAt = nil
			out.UpdatedAt = e.stamp(current)
			out.Version = current.Version + 1
			changed = true
			return tx.Update(ctx, out, current.Version, keys)
		})
		if errors.Is(err, storage.ErrUniqueViolation) {
			return nil, e.resolveConflict(ctx, tc, entityType, id, keys, err)
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.record(ctx, tc, rec, domain.OpRestore)
	}
	return rec, nil
}

// Get loads one record through the query filter layer.
func (e *Engine) Get(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID, includeDeleted bool) (*domain.Record, error) {
	recs, err := e.List(ctx, tc, entityType, query.Predicate{descriptor.FieldID: id}, query.Options{
		IncludeDeleted: includeDeleted,
		Limit:          1,
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// List returns the tenant's records of entityType matching pred.
// Soft-deleted records are excluded unless opts.IncludeDeleted.
func (e *Engine) List(ctx context.Context, tc tenant.Context, entityType string, pred query.Predicate, opts query.Options) ([]*domain.Record, error) {
	d, err := e.resolve(tc, entityType)
	if err != nil {
		return nil, err
	}
	pred, err = e.normalizePredicate(d, pred)
	if err != nil {
		return nil, err
	}
	q, err := query.Scope(tc, entityType, pred, opts)
	if err != nil {
		return nil, &ValidationError{Field: "predicate", Reason: err.Error()}
	}

	return run(ctx, e, func(ctx context.Context) ([]*domain.Record, error) {
		var out []*domain.Record
		err := e.store.InTx(ctx, func(tx storage.Tx) error {
			var err error
			out, err = tx.Scan(ctx, q)
			return err
		})
		return out, err
	})
}

func (e *Engine) resolve(tc tenant.Context, entityType string) (descriptor.Descriptor, error) {
	if !tc.Valid() {
		return descriptor.Descriptor{}, tenant.ErrInvalidTenant
	}
	return e.registry.Resolve(entityType)
}

// load fetches a record of the acting tenant. Records of other tenants
// are indistinguishable from missing ones.
func (e *Engine) load(ctx context.Context, tx storage.Tx, tc tenant.Context, entityType string, id uuid.UUID) (*domain.Record, error) {
	rec, err := tx.Get(ctx, tc.TenantID(), entityType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// stamp returns the timestamp for a mutation of rec, never earlier than
// its previous updated_at.
func (e *Engine) stamp(rec *domain.Record) time.Time {
	now := e.ids.Now()
	if now.Before(rec.UpdatedAt) {
		return rec.UpdatedAt
	}
	return now
}

func (e *Engine) actorResolver(tx storage.Tx) ActorResolver {
	if e.actors != nil {
		return e.actors
	}
	return tx
}

// resolveConflict runs after the store rejected a key at commit. It re-checks
// the keys in a fresh transaction: a visible owner yields DuplicateKeyError,
// otherwise the original violation is returned so the operation is retried.
func (e *Engine) resolveConflict(ctx context.Context, tc tenant.Context, entityType string, self uuid.UUID, keys []domain.UniqueKey, cause error) error {
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		return checkKeys(ctx, tx, tc.TenantID(), entityType, self, keys)
	})
	if err != nil {
		return err
	}
	return cause
}

func (e *Engine) normalizePredicate(d descriptor.Descriptor, pred query.Predicate) (query.Predicate, error) {
	if len(pred) == 0 {
		return pred, nil
	}
	out := make(query.Predicate, len(pred))
	for name, v := range pred {
		if descriptor.IsSystemField(name) {
			out[name] = v
			continue
		}
		if d.Strict() {
			if _, ok := d.Spec(name); !ok {
				return nil, &ValidationError{Field: name, Reason: "unknown field"}
			}
		}
		norm, err := normalize(map[string]any{name: v})
		if err != nil {
			return nil, err
		}
		out[name] = norm[name]
	}
	return out, nil
}

func (e *Engine) record(ctx context.Context, tc tenant.Context, rec *domain.Record, op domain.Operation) {
	e.logger.DebugContext(ctx, "record mutated",
		slog.String("operation", string(op)),
		slog.String("entity_type", rec.EntityType),
		slog.String("record_id", rec.ID.String()),
		slog.String("tenant_id", rec.TenantID.String()),
	)
	e.audit.Record(ctx, domain.AuditEntry{
		EntityType: rec.EntityType,
		RecordID:   rec.ID,
		TenantID:   rec.TenantID,
		ActorID:    tc.ActorID(),
		Operation:  op,
		Timestamp:  rec.UpdatedAt,
	})
}

var _ Service = (*Engine)(nil)
