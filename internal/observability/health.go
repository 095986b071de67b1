package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// Health statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// HealthChecker aggregates readiness from the engine's dependencies:
// the store, and whatever else the caller registers.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	logger  *slog.Logger
	started time.Time
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status        string                 `json:"status"`
	UptimeSeconds int64                  `json:"uptime_seconds,omitempty"`
	Checks        map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger, started: time.Now()}
}

// AddCheck registers a named readiness check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth returns liveness status. Always "ok" while the process runs.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{
		Status:        StatusOK,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
}

// CheckReady runs all registered checks in parallel and returns the
// aggregate: "ok" only if every check passes, "degraded" otherwise.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	if len(checks) == 0 {
		return HealthStatus{Status: StatusOK}
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.Check(checkCtx)
			results[i] = CheckResult{Status: StatusOK, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = StatusFail
				results[i].Message = err.Error()
			}
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Status: StatusOK,
		Checks: make(map[string]CheckResult, len(checks)),
	}
	for i, c := range checks {
		status.Checks[c.Name] = results[i]
		if results[i].Status == StatusOK {
			continue
		}
		status.Status = StatusDegraded
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", c.Name),
				slog.String("error", results[i].Message),
			)
		}
	}
	return status
}
