// Package query rewrites read requests into tenant-scoped storage queries.
// Every read goes through Scope, so the tenant filter and the live-only
// filter cannot be forgotten or overridden by a caller's predicate.
package query

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbukumbu/internal/descriptor"
	"github.com/jkaninda/kumbukumbu/internal/storage"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

// ErrInvalidPredicate is returned for predicates the store cannot express.
var ErrInvalidPredicate = errors.New("invalid predicate")

// MaxLimit bounds a single page.
const MaxLimit = 1000

// Predicate is a conjunction of field equalities.
type Predicate map[string]any

// Order is the created_at ordering of results.
type Order int

const (
	Oldest Order = iota // created_at ascending (default)
	Newest              // created_at descending
)

// Options control visibility and paging.
type Options struct {
	IncludeDeleted bool
	Limit          int // 0 = no limit, capped at MaxLimit
	Offset         int
	OrderBy        Order
}

// Scope builds the storage query for a read under tc.
//
// The tenant filter always comes from tc; a tenant_id in pred is dropped,
// never combined. id and created_by map onto record columns, any other
// name matches a business field. Timestamps cannot be matched by equality.
func Scope(tc tenant.Context, entityType string, pred Predicate, opts Options) (storage.Query, error) {
	if !tc.Valid() {
		return storage.Query{}, tenant.ErrInvalidTenant
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return storage.Query{}, fmt.Errorf("%w: negative limit or offset", ErrInvalidPredicate)
	}

	q := storage.Query{
		TenantID:       tc.TenantID(),
		EntityType:     entityType,
		IncludeDeleted: opts.IncludeDeleted,
		Limit:          min(opts.Limit, MaxLimit),
		Offset:         opts.Offset,
		Descending:     opts.OrderBy == Newest,
	}

	for name, value := range pred {
		switch name {
		case descriptor.FieldTenantID:
			// Overridden by the context.
		case descriptor.FieldID:
			ids, err := toIDs(value)
			if err != nil {
				return storage.Query{}, fmt.Errorf("%w: id: %v", ErrInvalidPredicate, err)
			}
			q.IDs = ids
		case descriptor.FieldCreatedBy:
			id, err := toID(value)
			if err != nil {
				return storage.Query{}, fmt.Errorf("%w: created_by: %v", ErrInvalidPredicate, err)
			}
			q.CreatedBy = &id
		case descriptor.FieldCreatedAt, descriptor.FieldUpdatedAt, descriptor.FieldDeletedAt:
			return storage.Query{}, fmt.Errorf("%w: cannot match on %s", ErrInvalidPredicate, name)
		default:
			if value == nil {
				return storage.Query{}, fmt.Errorf("%w: %s: null never matches", ErrInvalidPredicate, name)
			}
			if q.Equals == nil {
				q.Equals = make(map[string]any, len(pred))
			}
			q.Equals[name] = value
		}
	}
	return q, nil
}

func toID(v any) (uuid.UUID, error) {
	switch id := v.(type) {
	case uuid.UUID:
		return id, nil
	case string:
		return uuid.Parse(id)
	default:
		return uuid.Nil, fmt.Errorf("unsupported type %T", v)
	}
}

func toIDs(v any) ([]uuid.UUID, error) {
	switch ids := v.(type) {
	case []uuid.UUID:
		if len(ids) == 0 {
			return nil, fmt.Errorf("empty id list")
		}
		return ids, nil
	case []string:
		if len(ids) == 0 {
			return nil, fmt.Errorf("empty id list")
		}
		out := make([]uuid.UUID, len(ids))
		for i, s := range ids {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, err
			}
			out[i] = id
		}
		return out, nil
	default:
		id, err := toID(v)
		if err != nil {
			return nil, err
		}
		return []uuid.UUID{id}, nil
	}
}
