package query

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

type oneTenant struct{ t *domain.Tenant }

func (o oneTenant) Get(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	if id != o.t.ID {
		return nil, storage.ErrNotFound
	}
	return o.t, nil
}

func (o oneTenant) GetBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	if slug != o.t.Slug {
		return nil, storage.ErrNotFound
	}
	return o.t, nil
}

func testContext(t *testing.T) tenant.Context {
	t.Helper()
	tn := &domain.Tenant{ID: uuid.New(), Slug: "alpha", Active: true}
	tc, err := tenant.NewResolver(oneTenant{tn}).Resolve(context.Background(), tn.ID, nil)
	if err != nil {
		t.Fatalf("resolving test tenant: %v", err)
	}
	return tc
}

func TestScope_TenantCannotBeOverridden(t *testing.T) {
	tc := testContext(t)
	q, err := Scope(tc, "teachers", Predicate{"tenant_id": uuid.New().String(), "employee_id": "E100"}, Options{})
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}
	if q.TenantID != tc.TenantID() {
		t.Errorf("TenantID = %s, want context tenant %s", q.TenantID, tc.TenantID())
	}
	if _, leaked := q.Equals["tenant_id"]; leaked {
		t.Error("tenant_id predicate leaked into field equality")
	}
	if q.Equals["employee_id"] != "E100" {
		t.Errorf("Equals = %v", q.Equals)
	}
}

func TestScope_DefaultsHideDeleted(t *testing.T) {
	tc := testContext(t)
	q, err := Scope(tc, "teachers", nil, Options{})
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}
	if q.IncludeDeleted {
		t.Error("deleted records must be hidden by default")
	}
	if q.Descending {
		t.Error("default order must be oldest first")
	}

	q, _ = Scope(tc, "teachers", nil, Options{IncludeDeleted: true, OrderBy: Newest, Limit: 5000})
	if !q.IncludeDeleted || !q.Descending {
		t.Errorf("options not honoured: %+v", q)
	}
	if q.Limit != MaxLimit {
		t.Errorf("Limit = %d, want cap %d", q.Limit, MaxLimit)
	}
}

func TestScope_SystemFields(t *testing.T) {
	tc := testContext(t)
	id := uuid.New()
	actor := uuid.New()

	q, err := Scope(tc, "teachers", Predicate{"id": id.String(), "created_by": actor}, Options{})
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}
	if len(q.IDs) != 1 || q.IDs[0] != id {
		t.Errorf("IDs = %v", q.IDs)
	}
	if q.CreatedBy == nil || *q.CreatedBy != actor {
		t.Errorf("CreatedBy = %v", q.CreatedBy)
	}
	if len(q.Equals) != 0 {
		t.Errorf("system fields leaked into Equals: %v", q.Equals)
	}
}

func TestScope_Invalid(t *testing.T) {
	tc := testContext(t)
	tests := []struct {
		name string
		pred Predicate
		opts Options
	}{
		{"malformed id", Predicate{"id": "not-a-uuid"}, Options{}},
		{"empty id list", Predicate{"id": []string{}}, Options{}},
		{"id of wrong type", Predicate{"id": 42}, Options{}},
		{"timestamp equality", Predicate{"created_at": "2024-01-01"}, Options{}},
		{"deleted_at equality", Predicate{"deleted_at": nil}, Options{}},
		{"null business field", Predicate{"period": nil}, Options{}},
		{"negative offset", nil, Options{Offset: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Scope(tc, "attendance", tt.pred, tt.opts); !errors.Is(err, ErrInvalidPredicate) {
				t.Fatalf("expected ErrInvalidPredicate, got %v", err)
			}
		})
	}
}

func TestScope_ZeroContext(t *testing.T) {
	if _, err := Scope(tenant.Context{}, "teachers", nil, Options{}); !errors.Is(err, tenant.ErrInvalidTenant) {
		t.Fatalf("expected ErrInvalidTenant, got %v", err)
	}
}
