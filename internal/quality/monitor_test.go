package quality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martpipe/internal/config"
	"martpipe/pkg/contracts/domain"
)

func monitorConfig() config.QualityConfig {
	return config.QualityConfig{
		Threshold:        80,
		WindowSize:       10,
		CriticalBreaches: 3,
		RecoveryReports:  2,
		HistorySize:      50,
	}
}

func report(stage string, score float64) domain.QualityReport {
	return domain.QualityReport{Stage: stage, BatchID: "b", Score: score}
}

func observeAll(t *testing.T, m *Monitor, stage string, scores ...float64) []*Transition {
	t.Helper()
	var transitions []*Transition
	for _, score := range scores {
		if tr := m.Observe(context.Background(), report(stage, score)); tr != nil {
			transitions = append(transitions, tr)
		}
	}
	return transitions
}

func TestHealthyStaysHealthyAboveThreshold(t *testing.T) {
	m := NewMonitor(monitorConfig(), nil)
	transitions := observeAll(t, m, domain.StageCleaner, 95, 92, 98, 90)

	assert.Empty(t, transitions)
	assert.Equal(t, StateHealthy, m.StageState(domain.StageCleaner))
}

func TestFirstBreachDegrades(t *testing.T) {
	m := NewMonitor(monitorConfig(), nil)
	transitions := observeAll(t, m, domain.StageCleaner, 95, 40)

	require.Len(t, transitions, 1)
	assert.Equal(t, StateHealthy, transitions[0].From)
	assert.Equal(t, StateDegraded, transitions[0].To)
}

func TestConsecutiveBreachesEscalateToCritical(t *testing.T) {
	m := NewMonitor(monitorConfig(), nil)

	// Three consecutive breaches with K=3: degraded on the first, critical
	// on the third.
	transitions := observeAll(t, m, domain.StageCleaner, 30, 25, 20)

	require.Len(t, transitions, 2)
	assert.Equal(t, StateDegraded, transitions[0].To)
	assert.Equal(t, StateCritical, transitions[1].To)
	assert.Equal(t, StateCritical, m.StageState(domain.StageCleaner))
}

func TestRecoveryNeedsConsecutiveHealthyReports(t *testing.T) {
	m := NewMonitor(monitorConfig(), nil)
	observeAll(t, m, domain.StageCleaner, 30, 25, 20)
	require.Equal(t, StateCritical, m.StageState(domain.StageCleaner))

	// One healthy report is not enough with M=2; hysteresis holds the state.
	observeAll(t, m, domain.StageCleaner, 95)
	assert.Equal(t, StateCritical, m.StageState(domain.StageCleaner))

	transitions := observeAll(t, m, domain.StageCleaner, 96)
	require.Len(t, transitions, 1)
	assert.Equal(t, StateCritical, transitions[0].From)
	assert.Equal(t, StateHealthy, transitions[0].To)
}

func TestBreachStreakBrokenResetsEscalation(t *testing.T) {
	m := NewMonitor(monitorConfig(), nil)

	// Breach, recover fully, breach twice more: never critical because the
	// streak restarts.
	observeAll(t, m, domain.StageCleaner, 30, 95, 96, 25, 20)
	assert.Equal(t, StateDegraded, m.StageState(domain.StageCleaner))
}

func TestStagesAreIndependent(t *testing.T) {
	m := NewMonitor(monitorConfig(), nil)
	observeAll(t, m, domain.StageCleaner, 30)
	observeAll(t, m, domain.StageValidator, 95)

	assert.Equal(t, StateDegraded, m.StageState(domain.StageCleaner))
	assert.Equal(t, StateHealthy, m.StageState(domain.StageValidator))
}

func TestSubscribersSeeTransitions(t *testing.T) {
	m := NewMonitor(monitorConfig(), nil)

	var seen []Transition
	m.Subscribe(func(tr Transition) { seen = append(seen, tr) })

	observeAll(t, m, domain.StageCleaner, 30, 25, 20)
	require.Len(t, seen, 2)
	assert.Equal(t, StateDegraded, seen[0].To)
	assert.Equal(t, StateCritical, seen[1].To)
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := monitorConfig()
	cfg.HistorySize = 3
	m := NewMonitor(cfg, nil)

	observeAll(t, m, domain.StageCleaner, 90, 91, 92, 93, 94)
	history := m.History(domain.StageCleaner)
	require.Len(t, history, 3)
	assert.InDelta(t, 92, history[0].Score, 1e-9)
	assert.InDelta(t, 94, history[2].Score, 1e-9)
}

func TestAdjustedScorePenalizesDecline(t *testing.T) {
	// Flat window: adjusted equals the latest score.
	assert.InDelta(t, 90, adjustedScore([]float64{90, 90, 90}), 1e-9)

	// Declining window: the slope projection pulls the score below the
	// latest raw value.
	declining := adjustedScore([]float64{90, 80, 70})
	assert.Less(t, declining, 70.0)

	// Improving window: never rewarded above the latest score.
	improving := adjustedScore([]float64{70, 80, 90})
	assert.InDelta(t, 90, improving, 1e-9)
}

func TestDecliningTrendBreachesEarly(t *testing.T) {
	m := NewMonitor(monitorConfig(), nil)

	// Raw scores stay above the threshold but the sharp decline pulls the
	// trend-adjusted score through it.
	transitions := observeAll(t, m, domain.StageCleaner, 100, 95, 90, 85, 82)
	require.NotEmpty(t, transitions)
	assert.Equal(t, StateDegraded, transitions[0].To)
}

func TestStatusSnapshot(t *testing.T) {
	m := NewMonitor(monitorConfig(), nil)
	observeAll(t, m, domain.StageCleaner, 95)

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, domain.StageCleaner, status[0].Stage)
	assert.Equal(t, StateHealthy, status[0].State)
	assert.InDelta(t, 95, status[0].LastScore, 1e-9)
}
