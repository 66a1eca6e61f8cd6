package calculate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

// Calculator derives business metrics from clean records by evaluating the
// enabled formulas. A formula computes a number only when all of its
// required inputs are present and defined; otherwise the metric is undefined
// for that record. Undefined propagates, it is never substituted with a
// computed default, so downstream aggregates stay uncorrupted.
type Calculator struct {
	formulas []Formula
	logger   *slog.Logger
}

// Result is the outcome of calculating one batch.
type Result struct {
	Records []domain.MetricRecord
	Report  domain.QualityReport
}

// NewCalculator resolves the enabled formula names against the registry.
// An unknown formula reference is a fatal configuration error.
func NewCalculator(registry *Registry, enabled []string, logger *slog.Logger) (*Calculator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = BuiltinRegistry()
	}
	if len(enabled) == 0 {
		return nil, errors.NewConfigError("calculator requires at least one enabled metric")
	}

	formulas := make([]Formula, 0, len(enabled))
	for _, name := range enabled {
		f, err := registry.Get(name)
		if err != nil {
			return nil, errors.NewConfigError("unknown metric formula %q", name)
		}
		formulas = append(formulas, f)
	}

	return &Calculator{
		formulas: formulas,
		logger:   logger.With(slog.String("component", "calculator")),
	}, nil
}

// CalculateBatch evaluates every enabled formula against every clean record.
// A panic inside a formula isolates the offending record with an
// internal-error violation; the batch continues (poison-record isolation,
// not poison-batch).
func (c *Calculator) CalculateBatch(ctx context.Context, batchID string, records []domain.CleanRecord) *Result {
	report := domain.QualityReport{
		Stage:             domain.StageCalculator,
		BatchID:           batchID,
		ProducedAt:        time.Now().UTC(),
		RecordsIn:         len(records),
		Violations:        make(map[string]int),
		UndefinedByMetric: make(map[string]int),
	}

	out := make([]domain.MetricRecord, 0, len(records))
	for _, record := range records {
		mr, err := c.calculateRecord(record, report.UndefinedByMetric)
		if err != nil {
			report.Rejected++
			report.Violations["internal-error"]++
			c.logger.ErrorContext(ctx, "record isolated after formula panic",
				slog.String("batch_id", batchID),
				slog.String("trace_id", record.TraceID),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, mr)
	}

	report.Accepted = len(out)
	result := &Result{Records: out, Report: report.Finalize()}

	c.logger.InfoContext(ctx, "batch calculated",
		slog.String("batch_id", batchID),
		slog.Int("records_in", report.RecordsIn),
		slog.Int("metric_records", len(out)),
		slog.Float64("score", result.Report.Score))

	return result
}

// calculateRecord evaluates all formulas for one record.
func (c *Calculator) calculateRecord(record domain.CleanRecord, undefined map[string]int) (mr domain.MetricRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewStageError(domain.StageCalculator, fmt.Errorf("formula panic: %v", r))
		}
	}()

	mr = domain.MetricRecord{
		Clean:   record,
		Metrics: make(map[string]domain.MetricValue, len(c.formulas)),
	}

	for _, f := range c.formulas {
		inputs, ok := gatherInputs(record, f.Inputs)
		if !ok {
			mr.Metrics[f.Name] = domain.UndefinedMetric()
			undefined[f.Name]++
			continue
		}

		v := f.Fn(inputs)
		// Division by zero and overflow force undefined, never a panic and
		// never a silent zero.
		if math.IsNaN(v) || math.IsInf(v, 0) {
			mr.Metrics[f.Name] = domain.UndefinedMetric()
			undefined[f.Name]++
			continue
		}

		mr.Metrics[f.Name] = domain.DefinedMetric(v)
	}

	return mr, nil
}

// gatherInputs collects the numeric inputs for a formula. Any missing or
// non-numeric input makes the whole formula undefined for the record.
func gatherInputs(record domain.CleanRecord, names []string) (map[string]float64, bool) {
	inputs := make(map[string]float64, len(names))
	for _, name := range names {
		n, ok := record.Number(name)
		if !ok {
			return nil, false
		}
		inputs[name] = n
	}
	return inputs, true
}
