package quality

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"martpipe/internal/config"
	"martpipe/pkg/contracts/domain"
)

// State is the health condition of one stage.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateCritical State = "critical"
)

// Transition records a single state change for one stage. Transitions are
// one-directional events: subscribers see each change exactly once.
type Transition struct {
	Stage     string    `json:"stage"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Score     float64   `json:"score"`
	Adjusted  float64   `json:"adjusted"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

// StageStatus is the read-side view of one stage's health.
type StageStatus struct {
	Stage      string    `json:"stage"`
	State      State     `json:"state"`
	LastScore  float64   `json:"last_score"`
	Adjusted   float64   `json:"adjusted_score"`
	Breaches   int       `json:"consecutive_breaches"`
	LastReport time.Time `json:"last_report"`
}

// Monitor tracks per-stage quality over a rolling window of reports and runs
// the hysteresis state machine: HEALTHY degrades on the first breach,
// escalates to CRITICAL after K consecutive breaches, and recovers to HEALTHY
// only after M consecutive healthy reports. Hysteresis keeps a stage from
// flapping when its score oscillates around the threshold.
type Monitor struct {
	cfg    config.QualityConfig
	logger *slog.Logger
	mu     sync.RWMutex
	stages map[string]*stageState
	subsMu sync.RWMutex
	subs   []func(Transition)
}

type stageState struct {
	mu         sync.Mutex
	state      State
	window     []float64
	history    []domain.QualityReport
	breaches   int
	healthy    int
	lastScore  float64
	adjusted   float64
	lastReport time.Time
}

// NewMonitor creates a quality monitor.
func NewMonitor(cfg config.QualityConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "quality_monitor")),
		stages: make(map[string]*stageState),
	}
}

// Subscribe registers a callback invoked for every state transition. The
// callback must not block: the dispatcher side is already asynchronous.
func (m *Monitor) Subscribe(fn func(Transition)) {
	m.subsMu.Lock()
	m.subs = append(m.subs, fn)
	m.subsMu.Unlock()
}

// Observe folds one quality report into the stage's window and advances the
// state machine. The whole update is atomic under the stage's lock: two
// reports for the same stage never interleave. Returns the transition when
// the state changed.
func (m *Monitor) Observe(ctx context.Context, report domain.QualityReport) *Transition {
	st := m.stage(report.Stage)

	st.mu.Lock()
	st.window = append(st.window, report.Score)
	if len(st.window) > m.cfg.WindowSize {
		st.window = st.window[len(st.window)-m.cfg.WindowSize:]
	}
	st.history = append(st.history, report)
	if len(st.history) > m.cfg.HistorySize {
		st.history = st.history[len(st.history)-m.cfg.HistorySize:]
	}

	st.lastScore = report.Score
	st.adjusted = adjustedScore(st.window)
	st.lastReport = report.ProducedAt

	breached := st.adjusted < m.cfg.Threshold
	from := st.state
	if breached {
		st.breaches++
		st.healthy = 0
	} else {
		st.breaches = 0
		st.healthy++
	}

	switch {
	case st.state == StateHealthy && breached:
		st.state = StateDegraded
	case st.state == StateDegraded && st.breaches >= m.cfg.CriticalBreaches:
		st.state = StateCritical
	case st.state != StateHealthy && st.healthy >= m.cfg.RecoveryReports:
		st.state = StateHealthy
	}
	to := st.state
	adjusted := st.adjusted
	st.mu.Unlock()

	if from == to {
		return nil
	}

	t := Transition{
		Stage:     report.Stage,
		From:      from,
		To:        to,
		Score:     report.Score,
		Adjusted:  adjusted,
		Threshold: m.cfg.Threshold,
		At:        time.Now().UTC(),
	}

	m.logger.WarnContext(ctx, "stage health transition",
		slog.String("stage", t.Stage),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
		slog.Float64("score", t.Score),
		slog.Float64("adjusted", t.Adjusted),
		slog.Float64("threshold", t.Threshold))

	m.subsMu.RLock()
	subs := m.subs
	m.subsMu.RUnlock()
	for _, fn := range subs {
		fn(t)
	}
	return &t
}

// Status returns the current health of every observed stage.
func (m *Monitor) Status() []StageStatus {
	m.mu.RLock()
	names := make([]string, 0, len(m.stages))
	states := make([]*stageState, 0, len(m.stages))
	for name, st := range m.stages {
		names = append(names, name)
		states = append(states, st)
	}
	m.mu.RUnlock()

	out := make([]StageStatus, 0, len(states))
	for i, st := range states {
		st.mu.Lock()
		out = append(out, StageStatus{
			Stage:      names[i],
			State:      st.state,
			LastScore:  st.lastScore,
			Adjusted:   st.adjusted,
			Breaches:   st.breaches,
			LastReport: st.lastReport,
		})
		st.mu.Unlock()
	}
	return out
}

// History returns the retained reports for one stage, oldest first.
func (m *Monitor) History(stage string) []domain.QualityReport {
	m.mu.RLock()
	st, ok := m.stages[stage]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]domain.QualityReport, len(st.history))
	copy(out, st.history)
	return out
}

// StageState returns the current state of one stage. Unobserved stages are
// healthy.
func (m *Monitor) StageState(stage string) State {
	m.mu.RLock()
	st, ok := m.stages[stage]
	m.mu.RUnlock()
	if !ok {
		return StateHealthy
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

func (m *Monitor) stage(name string) *stageState {
	m.mu.RLock()
	st, ok := m.stages[name]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.stages[name]; ok {
		return st
	}
	st = &stageState{state: StateHealthy}
	m.stages[name] = st
	return st
}

// adjustedScore computes the trend-adjusted score over the rolling window:
// the latest score with a penalty when the window is declining. The penalty
// projects the linear slope between the window endpoints over half the
// window, so a steady decline breaches before the raw score crosses the
// threshold. An improving trend is never rewarded above the latest score.
func adjustedScore(window []float64) float64 {
	n := len(window)
	if n == 0 {
		return 100
	}
	adjusted := window[n-1]
	if n > 1 {
		slope := (window[n-1] - window[0]) / float64(n-1)
		if slope < 0 {
			adjusted += slope * float64(n-1) / 2
		}
	}

	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 100 {
		adjusted = 100
	}
	return math.Round(adjusted*100) / 100
}
