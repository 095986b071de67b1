package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/kumbukumbu/internal/config"
)

const defaultAnomalyWindow = 5 * time.Minute

// minSamples is the number of operations a window needs before its fault
// rate is judged.
const minSamples = 5

// AnomalyDetector warns when the share of infrastructure faults (timeouts,
// exhausted retries, unclassified storage errors) among an operation's
// recent outcomes crosses a threshold. Caller mistakes such as validation
// failures or duplicate keys are not faults.
type AnomalyDetector struct {
	mu        sync.Mutex
	faults    map[string]*slidingWindow
	successes map[string]*slidingWindow
	threshold float64
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
	alerting  map[string]bool
}

type slidingWindow struct {
	entries []time.Time
	window  time.Duration
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	window := defaultAnomalyWindow
	if cfg.WindowSeconds > 0 {
		window = time.Duration(cfg.WindowSeconds) * time.Second
	}
	return &AnomalyDetector{
		faults:    make(map[string]*slidingWindow),
		successes: make(map[string]*slidingWindow),
		threshold: cfg.ErrorRateThreshold,
		window:    window,
		logger:    logger,
		now:       time.Now,
		alerting:  make(map[string]bool),
	}
}

// RecordFault records an infrastructure failure of operation.
func (a *AnomalyDetector) RecordFault(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.faults, operation).add(a.now())
	a.checkFaultRate(operation)
}

// RecordSuccess records an operation that reached the store and returned.
func (a *AnomalyDetector) RecordSuccess(operation string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.windowFor(a.successes, operation).add(a.now())
	a.checkFaultRate(operation)
}

// FaultRate returns the current fault rate of operation and the number of
// samples it is based on.
func (a *AnomalyDetector) FaultRate(operation string) (rate float64, samples int) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate(operation)
}

// Must be called with a.mu held.
func (a *AnomalyDetector) rate(operation string) (float64, int) {
	now := a.now()
	faults := a.windowFor(a.faults, operation).count(now)
	total := faults + a.windowFor(a.successes, operation).count(now)
	if total == 0 {
		return 0, 0
	}
	return float64(faults) / float64(total), total
}

// checkFaultRate logs once when operation crosses the threshold and once
// when it recovers. Must be called with a.mu held.
func (a *AnomalyDetector) checkFaultRate(operation string) {
	if a.threshold <= 0 {
		return
	}
	rate, total := a.rate(operation)
	if total < minSamples {
		return
	}

	high := rate > a.threshold
	if high == a.alerting[operation] {
		return
	}
	a.alerting[operation] = high
	if a.logger == nil {
		return
	}
	if high {
		a.logger.Warn("anomaly detected: high fault rate",
			slog.String("operation", operation),
			slog.Float64("fault_rate", rate),
			slog.Float64("threshold", a.threshold),
			slog.Int("samples", total),
		)
		return
	}
	a.logger.Info("fault rate back to normal",
		slog.String("operation", operation),
		slog.Float64("fault_rate", rate),
	)
}

func (a *AnomalyDetector) windowFor(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.window}
		m[key] = w
	}
	return w
}

func (w *slidingWindow) add(now time.Time) {
	w.entries = append(w.entries, now)
	w.prune(now)
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	return len(w.entries)
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
