package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func newRecord(tenantID uuid.UUID, fields map[string]any) *domain.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Record{
		ID:         uuid.New(),
		TenantID:   tenantID,
		EntityType: "students",
		Fields:     fields,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStore_DriverAndPing(t *testing.T) {
	s := testStore(t)
	if s.Driver() != storage.DriverSQLite {
		t.Errorf("Driver() = %q, want %q", s.Driver(), storage.DriverSQLite)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestTenants_DuplicateSlug(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Tenants().Create(ctx, "Green Valley"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := s.Tenants().Create(ctx, "green valley")
	if !errors.Is(err, storage.ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got %v", err)
	}

	got, err := s.Tenants().GetBySlug(ctx, "green-valley")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if !got.Active || got.Name != "Green Valley" {
		t.Errorf("unexpected tenant: %+v", got)
	}
}

func TestTenants_SetActiveMissing(t *testing.T) {
	s := testStore(t)
	err := s.Tenants().SetActive(context.Background(), uuid.New(), false)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecords_InsertGetScan(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tenant, _ := s.Tenants().Create(ctx, "alpha")
	other, _ := s.Tenants().Create(ctx, "beta")

	rec := newRecord(tenant.ID, map[string]any{"email": "a@x.io", "grade": float64(4)})
	keys := []domain.UniqueKey{{KeySet: "email", Value: `["a@x.io"]`}}
	if err := s.InTx(ctx, func(tx storage.Tx) error { return tx.Insert(ctx, rec, keys) }); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	err := s.InTx(ctx, func(tx storage.Tx) error {
		got, err := tx.Get(ctx, tenant.ID, "students", rec.ID)
		if err != nil {
			return err
		}
		if got.Fields["email"] != "a@x.io" {
			t.Errorf("email = %v", got.Fields["email"])
		}
		if _, err := tx.Get(ctx, other.ID, "students", rec.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("cross-tenant Get: expected ErrNotFound, got %v", err)
		}

		found, err := tx.Scan(ctx, storage.Query{TenantID: tenant.ID, EntityType: "students", Equals: map[string]any{"email": "a@x.io"}})
		if err != nil {
			return err
		}
		if len(found) != 1 || found[0].ID != rec.ID {
			t.Errorf("Scan by email returned %d records", len(found))
		}

		none, err := tx.Scan(ctx, storage.Query{TenantID: other.ID, EntityType: "students"})
		if err != nil {
			return err
		}
		if len(none) != 0 {
			t.Errorf("other tenant sees %d records", len(none))
		}

		owner, ok, err := tx.KeyOwner(ctx, tenant.ID, "students", keys[0])
		if err != nil || !ok || owner != rec.ID {
			t.Errorf("KeyOwner = %v, %v, %v", owner, ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestRecords_UniqueKeyViolation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tenant, _ := s.Tenants().Create(ctx, "alpha")
	keys := []domain.UniqueKey{{KeySet: "email", Value: `["dup@x.io"]`}}

	first := newRecord(tenant.ID, map[string]any{"email": "dup@x.io"})
	if err := s.InTx(ctx, func(tx storage.Tx) error { return tx.Insert(ctx, first, keys) }); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	second := newRecord(tenant.ID, map[string]any{"email": "dup@x.io"})
	err := s.InTx(ctx, func(tx storage.Tx) error { return tx.Insert(ctx, second, keys) })
	if !errors.Is(err, storage.ErrUniqueViolation) {
		t.Fatalf("expected ErrUniqueViolation, got %v", err)
	}

	// The failed transaction rolled back: the second record is absent.
	err = s.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.Get(ctx, tenant.ID, "students", second.ID)
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected rolled back record to be absent, got %v", err)
	}
}

func TestRecords_UpdateStaleVersion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tenant, _ := s.Tenants().Create(ctx, "alpha")
	rec := newRecord(tenant.ID, map[string]any{"name": "Ada"})
	if err := s.InTx(ctx, func(tx storage.Tx) error { return tx.Insert(ctx, rec, nil) }); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec.Fields["name"] = "Grace"
	rec.Version = 2
	if err := s.InTx(ctx, func(tx storage.Tx) error { return tx.Update(ctx, rec, 1, nil) }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec.Version = 3
	err := s.InTx(ctx, func(tx storage.Tx) error { return tx.Update(ctx, rec, 1, nil) })
	if !errors.Is(err, storage.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestRecords_ScanByNumericField(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tenant, _ := s.Tenants().Create(ctx, "alpha")

	big := newRecord(tenant.ID, map[string]any{"max_students": json.Number("1000000")})
	small := newRecord(tenant.ID, map[string]any{"max_students": float64(30)})
	err := s.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.Insert(ctx, big, nil); err != nil {
			return err
		}
		return tx.Insert(ctx, small, nil)
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	tests := []struct {
		name  string
		value any
		want  uuid.UUID
	}{
		{"decoded number", json.Number("1000000"), big.ID},
		{"float", float64(1000000), big.ID},
		{"exponent spelling", json.Number("1e6"), big.ID},
		{"small decoded number", json.Number("30"), small.ID},
		{"small float", float64(30), small.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.InTx(ctx, func(tx storage.Tx) error {
				found, err := tx.Scan(ctx, storage.Query{
					TenantID: tenant.ID, EntityType: "students",
					Equals: map[string]any{"max_students": tt.value},
				})
				if err != nil {
					return err
				}
				if len(found) != 1 || found[0].ID != tt.want {
					t.Errorf("Scan(max_students = %v) returned %d records", tt.value, len(found))
				}
				return nil
			})
			if err != nil {
				t.Fatalf("InTx: %v", err)
			}
		})
	}
}

func TestTenants_DeletePurgesEverything(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tenant, _ := s.Tenants().Create(ctx, "doomed")
	keep, _ := s.Tenants().Create(ctx, "kept")

	actor, err := s.Actors().Create(ctx, tenant.ID, "u-1", "u1@x.io")
	if err != nil {
		t.Fatalf("Create actor: %v", err)
	}
	rec := newRecord(tenant.ID, map[string]any{"email": "p@x.io"})
	rec.CreatedBy = &actor.ID
	if err := s.InTx(ctx, func(tx storage.Tx) error {
		return tx.Insert(ctx, rec, []domain.UniqueKey{{KeySet: "email", Value: `["p@x.io"]`}})
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Audit().Append(ctx, domain.AuditEntry{
		EntityType: "students", RecordID: rec.ID, TenantID: tenant.ID,
		ActorID: &actor.ID, Operation: domain.OpCreate, Timestamp: rec.CreatedAt,
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	kept := newRecord(keep.ID, map[string]any{"email": "p@x.io"})
	if err := s.InTx(ctx, func(tx storage.Tx) error {
		return tx.Insert(ctx, kept, []domain.UniqueKey{{KeySet: "email", Value: `["p@x.io"]`}})
	}); err != nil {
		t.Fatalf("Insert other tenant: %v", err)
	}

	if err := s.Tenants().Delete(ctx, tenant.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Tenants().Delete(ctx, tenant.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second Delete: expected ErrNotFound, got %v", err)
	}

	for _, tbl := range []string{"actors", "entity_records", "entity_unique_keys", "audit_entries"} {
		var n int64
		if err := s.GormDB().Table(tbl).Where("tenant_id = ?", tenant.ID).Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", tbl, err)
		}
		if n != 0 {
			t.Errorf("%s still holds %d rows of the deleted tenant", tbl, n)
		}
	}

	err = s.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.Get(ctx, keep.ID, "students", kept.ID)
		return err
	})
	if err != nil {
		t.Errorf("other tenant's record lost: %v", err)
	}
}

func TestActors_SoftDeleteKeepsRow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tenant, _ := s.Tenants().Create(ctx, "alpha")
	actor, _ := s.Actors().Create(ctx, tenant.ID, "ext-1", "")

	if _, err := s.Actors().Create(ctx, tenant.ID, "ext-1", ""); !errors.Is(err, storage.ErrUniqueViolation) {
		t.Errorf("duplicate external id: expected ErrUniqueViolation, got %v", err)
	}
	if err := s.Actors().SoftDelete(ctx, tenant.ID, actor.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	var resolved *domain.Actor
	err := s.InTx(ctx, func(tx storage.Tx) error {
		var err error
		resolved, err = tx.ResolveActor(ctx, actor.ID)
		return err
	})
	if err != nil {
		t.Fatalf("ResolveActor: %v", err)
	}
	if !resolved.Deleted() {
		t.Error("expected resolved actor to be marked deleted")
	}
}
