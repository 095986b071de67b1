package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/kumbukumbu/internal/config"
	"github.com/jkaninda/kumbukumbu/internal/descriptor"
	"github.com/jkaninda/kumbukumbu/internal/domain"
	"github.com/jkaninda/kumbukumbu/internal/engine"
	"github.com/jkaninda/kumbukumbu/internal/query"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Anomaly != nil {
		t.Error("anomaly should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestNew_MetricsAndAnomalyEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
		Anomaly: &config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.5},
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.MetricsOrNil() == nil || obs.Anomaly == nil {
		t.Fatal("metrics and anomaly detection should be enabled")
	}
	if obs.MetricsOrNil().AuditFailures() == nil {
		t.Error("audit failure counter should be exposed")
	}
}

func TestObservability_NilReceivers(t *testing.T) {
	var obs *Observability
	obs.Shutdown(context.Background())
	if obs.TracerOrNil() != nil || obs.MetricsOrNil() != nil || obs.HealthOrNil() != nil {
		t.Error("nil Observability should hand out nil components")
	}
	var m *MetricsCollector
	if m.AuditFailures() != nil {
		t.Error("nil collector should return a nil counter")
	}

	svc := &mockEngine{}
	if obs.Instrument(svc) != engine.Service(svc) {
		t.Error("nil Observability should return the service unchanged")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Registered(t *testing.T) {
	m := NewMetricsCollector()
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Vectors only appear in Gather after first use.
	m.EngineOperationsTotal.WithLabelValues("teachers", "create", OutcomeOK).Inc()
	m.AuditFailuresTotal.WithLabelValues("store").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"kumbukumbu_engine_operations_total",
		"kumbukumbu_audit_failures_total",
		"kumbukumbu_http_requests_total",
		"kumbukumbu_active_requests",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != StatusOK {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_Aggregate(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]error
		want   string
	}{
		{"all pass", map[string]error{"db": nil, "audit": nil}, StatusOK},
		{"one fails", map[string]error{"db": errors.New("connection refused"), "audit": nil}, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(nil)
			for name, err := range tt.checks {
				h.AddCheck(name, func(context.Context) error { return err })
			}

			status := h.CheckReady(context.Background())
			if status.Status != tt.want {
				t.Errorf("status = %q, want %q", status.Status, tt.want)
			}
			for name, err := range tt.checks {
				want := StatusOK
				if err != nil {
					want = StatusFail
				}
				if got := status.Checks[name].Status; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestHealthChecker_CheckSeesDeadline(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	})
	if status := h.CheckReady(context.Background()); status.Status != StatusOK {
		t.Errorf("status = %q, want ok: %+v", status.Status, status.Checks)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	if status := h.CheckHealth(); status.Status != StatusOK {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

// --- AnomalyDetector ---

func TestAnomalyDetector_NilSafe(t *testing.T) {
	var a *AnomalyDetector
	a.RecordFault("create")
	a.RecordSuccess("create")
	if rate, n := a.FaultRate("create"); rate != 0 || n != 0 {
		t.Errorf("nil detector rate = %v/%d", rate, n)
	}
}

func TestAnomalyDetector_FaultRate(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:            true,
		ErrorRateThreshold: 0.5,
		WindowSeconds:      60,
	}, nil)

	for i := 0; i < 4; i++ {
		a.RecordSuccess("create")
	}
	for i := 0; i < 6; i++ {
		a.RecordFault("create")
	}

	rate, n := a.FaultRate("create")
	if n != 10 || rate != 0.6 {
		t.Errorf("rate = %v over %d samples, want 0.6 over 10", rate, n)
	}
	a.mu.Lock()
	alerting := a.alerting["create"]
	a.mu.Unlock()
	if !alerting {
		t.Error("detector should be alerting above the threshold")
	}
	if _, n := a.FaultRate("update"); n != 0 {
		t.Error("operations are tracked independently")
	}
}

func TestAnomalyDetector_WindowExpiry(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{Enabled: true, WindowSeconds: 60}, nil)
	now := time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	a.RecordFault("create")
	a.RecordFault("create")
	now = now.Add(2 * time.Minute)
	a.RecordSuccess("create")

	rate, n := a.FaultRate("create")
	if n != 1 || rate != 0 {
		t.Errorf("rate = %v over %d samples, want expired faults dropped", rate, n)
	}
}

// --- InstrumentedEngine ---

type mockEngine struct {
	err   error
	recs  []*domain.Record
	calls []string
}

func (m *mockEngine) result(op string) (*domain.Record, error) {
	m.calls = append(m.calls, op)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Record{ID: uuid.New()}, nil
}

func (m *mockEngine) Create(context.Context, tenant.Context, string, map[string]any) (*domain.Record, error) {
	return m.result("create")
}

func (m *mockEngine) Update(context.Context, tenant.Context, string, uuid.UUID, map[string]any) (*domain.Record, error) {
	return m.result("update")
}

func (m *mockEngine) SoftDelete(context.Context, tenant.Context, string, uuid.UUID) (*domain.Record, error) {
	return m.result("delete")
}

func (m *mockEngine) Restore(context.Context, tenant.Context, string, uuid.UUID) (*domain.Record, error) {
	return m.result("restore")
}

func (m *mockEngine) Get(context.Context, tenant.Context, string, uuid.UUID, bool) (*domain.Record, error) {
	return m.result("get")
}

func (m *mockEngine) List(context.Context, tenant.Context, string, query.Predicate, query.Options) ([]*domain.Record, error) {
	m.calls = append(m.calls, "list")
	return m.recs, m.err
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeOK},
		{&engine.ValidationError{Field: "email", Reason: "invalid"}, OutcomeValidation},
		{&engine.DuplicateKeyError{KeySet: "employee_id"}, OutcomeDuplicateKey},
		{&engine.ReferenceError{Field: "marked_by"}, OutcomeReference},
		{&engine.SelfReferenceError{Field: "marked_by"}, OutcomeReference},
		{&engine.ImmutableFieldError{Field: "tenant_id"}, OutcomeImmutable},
		{engine.ErrTenantMismatch, OutcomeTenantMismatch},
		{engine.ErrNotFound, OutcomeNotFound},
		{fmt.Errorf("resolving: %w", descriptor.ErrUnknownEntity), OutcomeUnknownEntity},
		{tenant.ErrInvalidTenant, OutcomeInvalidTenant},
		{engine.ErrStorageTimeout, OutcomeTimeout},
		{engine.ErrCancelled, OutcomeCancelled},
		{fmt.Errorf("%w: retries exhausted", engine.ErrStorageTimeout), OutcomeTimeout},
		{errors.New("disk on fire"), OutcomeError},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestInstrumentedEngine_RecordsOutcomes(t *testing.T) {
	metrics := NewMetricsCollector()
	anomaly := NewAnomalyDetector(&config.AnomalyConfig{Enabled: true}, nil)
	inner := &mockEngine{}
	svc := NewInstrumentedEngine(inner, metrics, nil, anomaly)
	ctx := context.Background()

	if _, err := svc.Create(ctx, tenant.Context{}, "teachers", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	inner.err = &engine.DuplicateKeyError{KeySet: "employee_id"}
	if _, err := svc.Create(ctx, tenant.Context{}, "teachers", nil); !errors.Is(err, engine.ErrDuplicateKey) {
		t.Fatalf("error not passed through: %v", err)
	}
	inner.err = engine.ErrStorageTimeout
	if _, err := svc.Update(ctx, tenant.Context{}, "teachers", uuid.New(), nil); !errors.Is(err, engine.ErrStorageTimeout) {
		t.Fatalf("error not passed through: %v", err)
	}

	if got := counterValue(t, metrics.Registry, "kumbukumbu_engine_operations_total",
		prometheus.Labels{"entity_type": "teachers", "operation": "create", "outcome": OutcomeOK}); got != 1 {
		t.Errorf("create ok = %v, want 1", got)
	}
	if got := counterValue(t, metrics.Registry, "kumbukumbu_engine_operations_total",
		prometheus.Labels{"entity_type": "teachers", "operation": "create", "outcome": OutcomeDuplicateKey}); got != 1 {
		t.Errorf("create duplicate_key = %v, want 1", got)
	}
	if got := counterValue(t, metrics.Registry, "kumbukumbu_engine_operations_total",
		prometheus.Labels{"entity_type": "teachers", "operation": "update", "outcome": OutcomeTimeout}); got != 1 {
		t.Errorf("update timeout = %v, want 1", got)
	}

	// Duplicate keys are caller mistakes, timeouts are faults.
	if rate, n := anomaly.FaultRate("create"); rate != 0 || n != 2 {
		t.Errorf("create fault rate = %v over %d", rate, n)
	}
	if rate, n := anomaly.FaultRate("update"); rate != 1 || n != 1 {
		t.Errorf("update fault rate = %v over %d", rate, n)
	}
}

func TestInstrumentedEngine_ForwardsEveryOperation(t *testing.T) {
	inner := &mockEngine{recs: []*domain.Record{{}, {}}}
	svc := NewInstrumentedEngine(inner, nil, nil, nil)
	ctx := context.Background()
	id := uuid.New()

	svc.Create(ctx, tenant.Context{}, "classes", nil)
	svc.Update(ctx, tenant.Context{}, "classes", id, nil)
	svc.SoftDelete(ctx, tenant.Context{}, "classes", id)
	svc.Restore(ctx, tenant.Context{}, "classes", id)
	svc.Get(ctx, tenant.Context{}, "classes", id, false)
	recs, err := svc.List(ctx, tenant.Context{}, "classes", nil, query.Options{})
	if err != nil || len(recs) != 2 {
		t.Fatalf("List = %d records, %v", len(recs), err)
	}

	want := []string{"create", "update", "delete", "restore", "get", "list"}
	if fmt.Sprint(inner.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", inner.calls, want)
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	val := counterValue(t, metrics.Registry, "kumbukumbu_http_requests_total",
		prometheus.Labels{"method": "GET", "path": "/readyz", "status_code": "503"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_ImplicitOK(t *testing.T) {
	metrics := NewMetricsCollector()
	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	val := counterValue(t, metrics.Registry, "kumbukumbu_http_requests_total",
		prometheus.Labels{"method": "GET", "path": "/healthz", "status_code": "200"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
