package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/kumbukumbu/internal/observability"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// startServer runs s in the background and waits until /healthz answers.
func startServer(t *testing.T, cfg Config) string {
	t.Helper()
	cfg.ListenAddr = freeAddr(t)
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	go s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	base := "http://" + cfg.ListenAddr
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			return base
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("ops server did not start on %s", cfg.ListenAddr)
	return ""
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestLiveness(t *testing.T) {
	base := startServer(t, Config{HealthChecker: observability.NewHealthChecker(nil)})

	code, body := get(t, base+"/healthz")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	var status observability.HealthStatus
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatalf("decoding %q: %v", body, err)
	}
	if status.Status != observability.StatusOK {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		check    error
		wantCode int
		want     string
	}{
		{"database reachable", nil, http.StatusOK, observability.StatusOK},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, observability.StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := observability.NewHealthChecker(nil)
			health.AddCheck("database", func(context.Context) error { return tt.check })
			base := startServer(t, Config{HealthChecker: health})

			code, body := get(t, base+"/readyz")
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			var status observability.HealthStatus
			if err := json.Unmarshal([]byte(body), &status); err != nil {
				t.Fatalf("decoding %q: %v", body, err)
			}
			if status.Status != tt.want {
				t.Errorf("status = %q, want %q", status.Status, tt.want)
			}
			if _, ok := status.Checks["database"]; !ok {
				t.Error("database check missing from response")
			}
		})
	}
}

func TestReadiness_NoChecker(t *testing.T) {
	base := startServer(t, Config{})
	if code, _ := get(t, base+"/readyz"); code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetricsCollector()
	metrics.EngineOperationsTotal.WithLabelValues("teachers", "create", observability.OutcomeOK).Inc()
	base := startServer(t, Config{
		MetricsRegistry: metrics.Registry,
		Metrics:         metrics,
	})

	// One request through the middleware before scraping.
	get(t, base+"/healthz")

	code, body := get(t, base+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	for _, want := range []string{
		`kumbukumbu_engine_operations_total{entity_type="teachers",operation="create",outcome="ok"} 1`,
		`kumbukumbu_http_requests_total{method="GET",path="/healthz",status_code="200"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetricsPath(t *testing.T) {
	s := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if got := s.MetricsPath(); got != "/metrics" {
		t.Errorf("default path = %q", got)
	}
	s = New(Config{MetricsPath: "/internal/metrics"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if got := s.MetricsPath(); got != "/internal/metrics" {
		t.Errorf("path = %q", got)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}
