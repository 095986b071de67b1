//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := Open(Config{DSN: dsn}, logger)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := AutoMigrate(db.GormDB()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

func testTenant(t *testing.T, db *DB) uuid.UUID {
	t.Helper()
	repo := NewTenantRepository(db.GormDB())
	tenant, err := repo.Create(context.Background(), fmt.Sprintf("test-%s", uuid.New().String()[:8]))
	if err != nil {
		t.Fatalf("creating test tenant: %v", err)
	}
	t.Cleanup(func() { repo.Delete(context.Background(), tenant.ID) })
	return tenant.ID
}

// --- Uniqueness arbitration ---

func TestUniqueKeys_ConcurrentClaims(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	ctx := context.Background()
	key := domain.UniqueKey{KeySet: "email", Value: `["race@x.io"]`}

	const numWorkers = 20
	var successCount atomic.Int32
	var violationCount atomic.Int32

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			rec := &domain.Record{
				ID: uuid.New(), TenantID: tenantID, EntityType: "students",
				Fields:    map[string]any{"email": "race@x.io"},
				CreatedAt: now, UpdatedAt: now, Version: 1,
			}
			err := RunInTx(ctx, db.GormDB(), func(tx storage.Tx) error {
				return tx.Insert(ctx, rec, []domain.UniqueKey{key})
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, storage.ErrUniqueViolation):
				violationCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", successCount.Load())
	}
	if violationCount.Load() != numWorkers-1 {
		t.Errorf("expected %d violations, got %d", numWorkers-1, violationCount.Load())
	}
}

// --- Optimistic versioning ---

func TestRecords_StaleUpdate(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &domain.Record{
		ID: uuid.New(), TenantID: tenantID, EntityType: "classes",
		Fields: map[string]any{"name": "Math"}, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := RunInTx(ctx, db.GormDB(), func(tx storage.Tx) error { return tx.Insert(ctx, rec, nil) }); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec.Version = 2
	if err := RunInTx(ctx, db.GormDB(), func(tx storage.Tx) error { return tx.Update(ctx, rec, 1, nil) }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	err := RunInTx(ctx, db.GormDB(), func(tx storage.Tx) error { return tx.Update(ctx, rec, 1, nil) })
	if !errors.Is(err, storage.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

// --- JSON predicates ---

func TestRecords_ScanByField(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	ctx := context.Background()

	err := RunInTx(ctx, db.GormDB(), func(tx storage.Tx) error {
		for i, status := range []string{"present", "absent", "present"} {
			now := time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
			rec := &domain.Record{
				ID: uuid.New(), TenantID: tenantID, EntityType: "attendance",
				Fields:    map[string]any{"status": status, "minutes": json.Number(fmt.Sprint(1000000 + i%2))},
				CreatedAt: now, UpdatedAt: now, Version: 1,
			}
			if err := tx.Insert(ctx, rec, nil); err != nil {
				return err
			}
		}
		found, err := tx.Scan(ctx, storage.Query{
			TenantID: tenantID, EntityType: "attendance",
			Equals: map[string]any{"status": "present"},
		})
		if err != nil {
			return err
		}
		if len(found) != 2 {
			t.Errorf("expected 2 present records, got %d", len(found))
		}

		for _, v := range []any{json.Number("1000000"), float64(1000000), json.Number("1e6")} {
			found, err := tx.Scan(ctx, storage.Query{
				TenantID: tenantID, EntityType: "attendance",
				Equals: map[string]any{"minutes": v},
			})
			if err != nil {
				return err
			}
			if len(found) != 2 {
				t.Errorf("minutes = %v matched %d records, want 2", v, len(found))
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

// --- Audit immutability ---

func TestAudit_QueryNewestFirst(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	repo := NewAuditRepository(db.GormDB())
	ctx := context.Background()
	recordID := uuid.New()

	base := time.Now().UTC()
	for i, op := range []domain.Operation{domain.OpCreate, domain.OpUpdate, domain.OpDelete} {
		entry := domain.AuditEntry{
			EntityType: "teachers", RecordID: recordID, TenantID: tenantID,
			Operation: op, Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := repo.Query(ctx, tenantID, recordID, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Operation != domain.OpDelete {
		t.Errorf("expected newest entry first, got %s", entries[0].Operation)
	}
}
