// Package audit records an immutable trail entry after every successful
// mutation. Recording is best-effort: sink failures are logged and counted,
// never returned to the caller.
package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/kumbukumbu/internal/domain"
)

// Sink persists audit entries somewhere.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry domain.AuditEntry) error
}

// Writer fans an entry out to every configured sink.
type Writer struct {
	sinks    []Sink
	logger   *slog.Logger
	failures *prometheus.CounterVec
}

// NewWriter creates a Writer over sinks.
func NewWriter(logger *slog.Logger, sinks ...Sink) *Writer {
	return &Writer{sinks: sinks, logger: logger}
}

// WithFailureCounter counts sink failures on c, labelled by sink name.
func (w *Writer) WithFailureCounter(c *prometheus.CounterVec) *Writer {
	w.failures = c
	return w
}

// Record writes entry to every sink. The caller's cancellation does not
// abort recording: the mutation it describes has already committed.
// Safe to call on a nil Writer.
func (w *Writer) Record(ctx context.Context, entry domain.AuditEntry) {
	if w == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, sink := range w.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			w.logger.ErrorContext(ctx, "audit sink failed",
				slog.String("sink", sink.Name()),
				slog.String("operation", string(entry.Operation)),
				slog.String("entity_type", entry.EntityType),
				slog.String("record_id", entry.RecordID.String()),
				slog.String("error", err.Error()),
			)
			if w.failures != nil {
				w.failures.WithLabelValues(sink.Name()).Inc()
			}
		}
	}
}

// Close closes every sink that holds resources.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	var errs []error
	for _, sink := range w.sinks {
		if c, ok := sink.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
