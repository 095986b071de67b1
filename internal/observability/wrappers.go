package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kumbukumbu/internal/descriptor"
	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/engine"
	"github.com/jkaninda/kumbukumbu/internal/query"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

// Operation outcomes used as metric labels.
const (
	OutcomeOK             = "ok"
	OutcomeValidation     = "validation"
	OutcomeDuplicateKey   = "duplicate_key"
	OutcomeReference      = "reference"
	OutcomeImmutable      = "immutable"
	OutcomeTenantMismatch = "tenant_mismatch"
	OutcomeNotFound       = "not_found"
	OutcomeUnknownEntity  = "unknown_entity"
	OutcomeInvalidTenant  = "invalid_tenant"
	OutcomeTimeout        = "timeout"
	OutcomeCancelled      = "cancelled"
	OutcomeError          = "error"
)

// Outcome maps an engine error onto its metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, engine.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, engine.ErrDuplicateKey):
		return OutcomeDuplicateKey
	case errors.Is(err, engine.ErrCrossTenantReference), errors.Is(err, engine.ErrSelfReference):
		return OutcomeReference
	case errors.Is(err, engine.ErrImmutableField):
		return OutcomeImmutable
	case errors.Is(err, engine.ErrTenantMismatch):
		return OutcomeTenantMismatch
	case errors.Is(err, engine.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, descriptor.ErrUnknownEntity):
		return OutcomeUnknownEntity
	case errors.Is(err, tenant.ErrInvalidTenant):
		return OutcomeInvalidTenant
	case errors.Is(err, engine.ErrStorageTimeout):
		return OutcomeTimeout
	case errors.Is(err, engine.ErrCancelled):
		return OutcomeCancelled
	}
	return OutcomeError
}

// isFault reports whether outcome points at the storage layer rather than
// at the caller.
func isFault(outcome string) bool {
	switch outcome {
	case OutcomeTimeout, OutcomeError:
		return true
	}
	return false
}

// --- InstrumentedEngine ---

// InstrumentedEngine wraps an engine.Service with metrics, tracing, and anomaly detection.
type InstrumentedEngine struct {
	inner   engine.Service
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedEngine wraps an engine with observability. With every
// component nil the wrapper only forwards calls.
func NewInstrumentedEngine(inner engine.Service, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedEngine {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedEngine{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

// Instrument wraps svc with o's components, or returns svc unchanged when
// o is nil.
func (o *Observability) Instrument(svc engine.Service) engine.Service {
	if o == nil {
		return svc
	}
	return NewInstrumentedEngine(svc, o.Metrics, o.Tracer, o.Anomaly)
}

func (e *InstrumentedEngine) Create(ctx context.Context, tc tenant.Context, entityType string, fields map[string]any) (*domain.Record, error) {
	ctx, done := e.observe(ctx, tc, entityType, "create", uuid.Nil)
	rec, err := e.inner.Create(ctx, tc, entityType, fields)
	if rec != nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("record.id", rec.ID.String()))
	}
	done(err)
	return rec, err
}

func (e *InstrumentedEngine) Update(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID, changes map[string]any) (*domain.Record, error) {
	ctx, done := e.observe(ctx, tc, entityType, "update", id)
	rec, err := e.inner.Update(ctx, tc, entityType, id, changes)
	done(err)
	return rec, err
}

func (e *InstrumentedEngine) SoftDelete(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID) (*domain.Record, error) {
	ctx, done := e.observe(ctx, tc, entityType, "delete", id)
	rec, err := e.inner.SoftDelete(ctx, tc, entityType, id)
	done(err)
	return rec, err
}

func (e *InstrumentedEngine) Restore(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID) (*domain.Record, error) {
	ctx, done := e.observe(ctx, tc, entityType, "restore", id)
	rec, err := e.inner.Restore(ctx, tc, entityType, id)
	done(err)
	return rec, err
}

func (e *InstrumentedEngine) Get(ctx context.Context, tc tenant.Context, entityType string, id uuid.UUID, includeDeleted bool) (*domain.Record, error) {
	ctx, done := e.observe(ctx, tc, entityType, "get", id)
	rec, err := e.inner.Get(ctx, tc, entityType, id, includeDeleted)
	done(err)
	return rec, err
}

func (e *InstrumentedEngine) List(ctx context.Context, tc tenant.Context, entityType string, pred query.Predicate, opts query.Options) ([]*domain.Record, error) {
	ctx, done := e.observe(ctx, tc, entityType, "list", uuid.Nil)
	recs, err := e.inner.List(ctx, tc, entityType, pred, opts)
	if err == nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("records.returned", len(recs)))
		if e.metrics != nil {
			e.metrics.EngineRecordsReturned.WithLabelValues(entityType).Observe(float64(len(recs)))
		}
	}
	done(err)
	return recs, err
}

// observe starts a span and the in-flight gauge for one operation. The
// returned func records its outcome.
func (e *InstrumentedEngine) observe(ctx context.Context, tc tenant.Context, entityType, op string, id uuid.UUID) (context.Context, func(error)) {
	var span trace.Span
	if e.tracer != nil {
		attrs := []attribute.KeyValue{
			attribute.String("entity.type", entityType),
			attribute.String("tenant.id", tc.TenantID().String()),
		}
		if id != uuid.Nil {
			attrs = append(attrs, attribute.String("record.id", id.String()))
		}
		ctx, span = e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	}
	if e.metrics != nil {
		e.metrics.ActiveRequests.Inc()
	}
	start := time.Now()

	return ctx, func(err error) {
		duration := time.Since(start).Seconds()
		outcome := Outcome(err)

		if span != nil {
			span.SetAttributes(attribute.String("engine.outcome", outcome))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}

		if e.metrics != nil {
			e.metrics.ActiveRequests.Dec()
			e.metrics.EngineOperationsTotal.WithLabelValues(entityType, op, outcome).Inc()
			e.metrics.EngineOperationDuration.WithLabelValues(entityType, op).Observe(duration)
		}

		if e.anomaly != nil && outcome != OutcomeCancelled {
			if isFault(outcome) {
				e.anomaly.RecordFault(op)
			} else {
				e.anomaly.RecordSuccess(op)
			}
		}
	}
}

// --- Compile-time interface checks ---

var _ engine.Service = (*InstrumentedEngine)(nil)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
