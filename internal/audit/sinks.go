package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/storage"
)

// StoreSink appends entries to the audit_entries table.
type StoreSink struct {
	store storage.AuditStore
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(store storage.AuditStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Write(ctx context.Context, entry domain.AuditEntry) error {
	return s.store.Append(ctx, entry)
}

// FileSink writes entries as append-only JSONL.
// Each entry is a single JSON line followed by a newline.
// Thread-safe: multiple goroutines can record concurrently.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the audit file in append-only mode.
// File permissions are 0600 (owner read/write only).
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Name() string { return "file" }

// Write marshals outside the lock; only the file write is serialized.
func (s *FileSink) Write(_ context.Context, entry domain.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, writeErr := s.file.Write(data)
	s.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("writing audit entry: %w", writeErr)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// LogSink emits entries as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, entry domain.AuditEntry) error {
	attrs := []any{
		slog.String("operation", string(entry.Operation)),
		slog.String("entity_type", entry.EntityType),
		slog.String("record_id", entry.RecordID.String()),
		slog.String("tenant_id", entry.TenantID.String()),
		slog.Time("timestamp", entry.Timestamp),
	}
	if entry.ActorID != nil {
		attrs = append(attrs, slog.String("actor_id", entry.ActorID.String()))
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}
