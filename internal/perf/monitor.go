package perf

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"martpipe/internal/config"
)

// Sample is one measured stage invocation.
type Sample struct {
	Stage       string        `json:"stage"`
	Records     int           `json:"records"`
	Duration    time.Duration `json:"duration"`
	Throughput  float64       `json:"throughput"`
	Budget      float64       `json:"budget,omitempty"`
	BelowBudget bool          `json:"below_budget,omitempty"`
}

// Event signals a stage crossing into or out of the SLOW condition.
type Event struct {
	Stage      string    `json:"stage"`
	Slow       bool      `json:"slow"`
	Throughput float64   `json:"throughput"`
	Budget     float64   `json:"budget"`
	At         time.Time `json:"at"`
}

// Monitor measures stage invocations and compares throughput against the
// configured per-stage budgets. A stage turns SLOW only after consecutive
// below-budget invocations (a single slow batch is noise, a streak is a
// regression) and recovers on the first at-budget invocation.
type Monitor struct {
	budgets   map[string]float64
	slowAfter int
	metrics   *Metrics
	logger    *slog.Logger

	mu     sync.Mutex
	stages map[string]*perfState

	subsMu sync.RWMutex
	subs   []func(Event)
}

type perfState struct {
	below int
	slow  bool
	last  Sample
}

// NewMonitor creates a performance monitor. Metrics may be nil when the
// prometheus surface is not wanted, e.g. in unit tests.
func NewMonitor(cfg config.PerformanceConfig, metrics *Metrics, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	slowAfter := cfg.SlowConsecutive
	if slowAfter < 1 {
		slowAfter = 2
	}
	return &Monitor{
		budgets:   cfg.Budgets,
		slowAfter: slowAfter,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "perf_monitor")),
		stages:    make(map[string]*perfState),
	}
}

// Subscribe registers a callback for SLOW condition changes.
func (m *Monitor) Subscribe(fn func(Event)) {
	m.subsMu.Lock()
	m.subs = append(m.subs, fn)
	m.subsMu.Unlock()
}

// Track wraps one stage invocation: call with the stage name, run the stage,
// then call the returned function with the record count.
func (m *Monitor) Track(ctx context.Context, stage string) func(records int) {
	start := time.Now()
	return func(records int) {
		m.Observe(ctx, stage, records, time.Since(start))
	}
}

// Observe records a completed stage invocation and advances the SLOW state.
func (m *Monitor) Observe(ctx context.Context, stage string, records int, duration time.Duration) {
	throughput := 0.0
	if duration > 0 {
		throughput = float64(records) / duration.Seconds()
	}

	if m.metrics != nil {
		m.metrics.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	}

	budget, budgeted := m.budgets[stage]
	sample := Sample{
		Stage:      stage,
		Records:    records,
		Duration:   duration,
		Throughput: throughput,
		Budget:     budget,
	}

	m.logger.DebugContext(ctx, "stage timed",
		slog.String("stage", stage),
		slog.Int("records", records),
		slog.Duration("duration", duration),
		slog.Float64("throughput", throughput))

	if !budgeted {
		m.record(stage, sample)
		return
	}
	// Empty batches carry no throughput signal either way.
	if records == 0 {
		m.record(stage, sample)
		return
	}

	sample.BelowBudget = throughput < budget

	m.mu.Lock()
	st, ok := m.stages[stage]
	if !ok {
		st = &perfState{}
		m.stages[stage] = st
	}
	if sample.BelowBudget {
		st.below++
	} else {
		st.below = 0
	}
	wasSlow := st.slow
	st.slow = st.below >= m.slowAfter
	st.last = sample
	nowSlow := st.slow
	m.mu.Unlock()

	if wasSlow == nowSlow {
		return
	}

	event := Event{
		Stage:      stage,
		Slow:       nowSlow,
		Throughput: throughput,
		Budget:     budget,
		At:         time.Now().UTC(),
	}
	if nowSlow {
		m.logger.WarnContext(ctx, "stage below throughput budget",
			slog.String("stage", stage),
			slog.Float64("throughput", throughput),
			slog.Float64("budget", budget))
	} else {
		m.logger.InfoContext(ctx, "stage recovered to budget",
			slog.String("stage", stage),
			slog.Float64("throughput", throughput),
			slog.Float64("budget", budget))
	}

	m.subsMu.RLock()
	subs := m.subs
	m.subsMu.RUnlock()
	for _, fn := range subs {
		fn(event)
	}
}

// Slow reports whether a stage is currently in the SLOW condition.
func (m *Monitor) Slow(stage string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[stage]
	return ok && st.slow
}

// LastSample returns the most recent sample for a stage.
func (m *Monitor) LastSample(stage string) (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[stage]
	if !ok {
		return Sample{}, false
	}
	return st.last, true
}

func (m *Monitor) record(stage string, sample Sample) {
	m.mu.Lock()
	st, ok := m.stages[stage]
	if !ok {
		st = &perfState{}
		m.stages[stage] = st
	}
	st.last = sample
	m.mu.Unlock()
}
