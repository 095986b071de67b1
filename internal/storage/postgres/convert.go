package postgres

import (
	"maps"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/jkaninda/kumbukumbu/internal/domain"
)

// --- Tenant ---

func toTenantDomain(m *TenantModel) *domain.Tenant {
	return &domain.Tenant{
		ID:        m.ID,
		Name:      m.Name,
		Slug:      m.Slug,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// --- Actor ---

func toActorDomain(m *ActorModel) *domain.Actor {
	return &domain.Actor{
		ID:         m.ID,
		TenantID:   m.TenantID,
		ExternalID: m.ExternalID,
		Email:      m.Email,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		DeletedAt:  utcPtr(m.DeletedAt),
	}
}

// --- Record ---

func toRecordModel(r *domain.Record) RecordModel {
	fields := datatypes.JSONMap(maps.Clone(r.Fields))
	if fields == nil {
		fields = datatypes.JSONMap{}
	}
	return RecordModel{
		ID:         r.ID,
		TenantID:   r.TenantID,
		EntityType: r.EntityType,
		Fields:     fields,
		CreatedBy:  r.CreatedBy,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		DeletedAt:  r.DeletedAt,
	}
}

func toRecordDomain(m *RecordModel) *domain.Record {
	fields := map[string]any(m.Fields)
	if fields == nil {
		fields = map[string]any{}
	}
	return &domain.Record{
		ID:         m.ID,
		TenantID:   m.TenantID,
		EntityType: m.EntityType,
		Fields:     fields,
		CreatedBy:  m.CreatedBy,
		Version:    m.Version,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
		DeletedAt:  utcPtr(m.DeletedAt),
	}
}

func toKeyModels(r *domain.Record, keys []domain.UniqueKey) []UniqueKeyModel {
	out := make([]UniqueKeyModel, len(keys))
	for i, k := range keys {
		out[i] = UniqueKeyModel{
			TenantID:   r.TenantID,
			EntityType: r.EntityType,
			KeySet:     k.KeySet,
			KeyValue:   k.Value,
			RecordID:   r.ID,
		}
	}
	return out
}

// --- Audit ---

func toAuditModel(e domain.AuditEntry) AuditEntryModel {
	return AuditEntryModel{
		ID:         uuid.New(),
		TenantID:   e.TenantID,
		EntityType: e.EntityType,
		RecordID:   e.RecordID,
		ActorID:    e.ActorID,
		Operation:  string(e.Operation),
		Timestamp:  e.Timestamp,
	}
}

func toAuditDomain(m *AuditEntryModel) domain.AuditEntry {
	return domain.AuditEntry{
		EntityType: m.EntityType,
		RecordID:   m.RecordID,
		TenantID:   m.TenantID,
		ActorID:    m.ActorID,
		Operation:  domain.Operation(m.Operation),
		Timestamp:  m.Timestamp.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
