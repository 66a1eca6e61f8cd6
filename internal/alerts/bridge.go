package alerts

import (
	"fmt"

	"martpipe/internal/perf"
	"martpipe/internal/quality"
	"martpipe/pkg/contracts/domain"
)

// BindQualityMonitor raises alerts from quality state transitions: entering
// DEGRADED warns, entering CRITICAL is critical, and returning to HEALTHY
// emits an informational recovery and resolves the ongoing condition.
func BindQualityMonitor(d *Dispatcher, m *quality.Monitor) {
	m.Subscribe(func(t quality.Transition) {
		switch t.To {
		case quality.StateHealthy:
			d.Resolve(t.Stage, domain.ConditionQualityDegradation)
			d.Raise(domain.Alert{
				Severity:  domain.SeverityInfo,
				Stage:     t.Stage,
				Condition: domain.ConditionQualityDegradation,
				Message: fmt.Sprintf("%s quality recovered: score %.2f above threshold %.2f",
					t.Stage, t.Adjusted, t.Threshold),
			})
		case quality.StateDegraded:
			d.Raise(domain.Alert{
				Severity:  domain.SeverityWarning,
				Stage:     t.Stage,
				Condition: domain.ConditionQualityDegradation,
				Message: fmt.Sprintf("%s quality degraded: score %.2f below threshold %.2f",
					t.Stage, t.Adjusted, t.Threshold),
			})
		case quality.StateCritical:
			d.Raise(domain.Alert{
				Severity:  domain.SeverityCritical,
				Stage:     t.Stage,
				Condition: domain.ConditionQualityDegradation,
				Message: fmt.Sprintf("%s quality critical: score %.2f below threshold %.2f on consecutive batches",
					t.Stage, t.Adjusted, t.Threshold),
			})
		}
	})
}

// BindPerfMonitor raises alerts when a stage crosses the SLOW condition.
func BindPerfMonitor(d *Dispatcher, m *perf.Monitor) {
	m.Subscribe(func(e perf.Event) {
		if !e.Slow {
			d.Resolve(e.Stage, domain.ConditionSlowStage)
			d.Raise(domain.Alert{
				Severity:  domain.SeverityInfo,
				Stage:     e.Stage,
				Condition: domain.ConditionSlowStage,
				Message: fmt.Sprintf("%s recovered to budget: %.1f records/s (budget %.1f)",
					e.Stage, e.Throughput, e.Budget),
			})
			return
		}
		d.Raise(domain.Alert{
			Severity:  domain.SeverityWarning,
			Stage:     e.Stage,
			Condition: domain.ConditionSlowStage,
			Message: fmt.Sprintf("%s below throughput budget: %.1f records/s (budget %.1f)",
				e.Stage, e.Throughput, e.Budget),
		})
	})
}
