package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"martpipe/internal/aggregate"
	"martpipe/internal/alerts"
	"martpipe/internal/calculate"
	"martpipe/internal/clean"
	"martpipe/internal/infrastructure"
	"martpipe/internal/ingest"
	"martpipe/internal/perf"
	"martpipe/internal/quality"
	"martpipe/internal/validate"
	"martpipe/pkg/contracts/domain"
)

// Runner executes the four stages in order for one batch. Cancellation is
// honored at stage boundaries only: a stage that has started always finishes
// its batch, so the mart never holds a half-merged batch.
type Runner struct {
	validator  *validate.Validator
	cleaner    *clean.Cleaner
	calculator *calculate.Calculator
	aggregator *aggregate.Aggregator
	mart       *aggregate.Mart
	persister  *aggregate.Persister

	quality    *quality.Monitor
	perf       *perf.Monitor
	metrics    *perf.Metrics
	dispatcher *alerts.Dispatcher

	tracer trace.Tracer
	logger *slog.Logger
}

// Deps bundles the runner's collaborators.
type Deps struct {
	Validator  *validate.Validator
	Cleaner    *clean.Cleaner
	Calculator *calculate.Calculator
	Aggregator *aggregate.Aggregator
	Mart       *aggregate.Mart
	Persister  *aggregate.Persister
	Quality    *quality.Monitor
	Perf       *perf.Monitor
	Metrics    *perf.Metrics
	Dispatcher *alerts.Dispatcher
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// NewRunner wires a runner from its dependencies.
func NewRunner(deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("martpipe")
	}
	return &Runner{
		validator:  deps.Validator,
		cleaner:    deps.Cleaner,
		calculator: deps.Calculator,
		aggregator: deps.Aggregator,
		mart:       deps.Mart,
		persister:  deps.Persister,
		quality:    deps.Quality,
		perf:       deps.Perf,
		metrics:    deps.Metrics,
		dispatcher: deps.Dispatcher,
		tracer:     tracer,
		logger:     logger.With(slog.String("component", "runner")),
	}
}

// Run pushes one batch through validate, clean, calculate and aggregate.
// A summary comes back regardless of partial failures: aborted runs report
// how far they got, and a persistence failure is an alert, not a lost batch.
func (r *Runner) Run(ctx context.Context, batch *ingest.Batch) domain.BatchSummary {
	started := time.Now()
	summary := domain.BatchSummary{
		BatchID:     batch.BatchID,
		SourceID:    batch.SourceID,
		Schema:      batch.Schema,
		StartedAt:   started.UTC(),
		RecordsIn:   len(batch.Records),
		StageScores: make(map[string]float64),
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("batch.id", batch.BatchID),
			attribute.String("batch.source", batch.SourceID),
			attribute.Int("batch.records", len(batch.Records))))
	defer span.End()

	// Validate.
	if r.aborted(ctx, &summary, started) {
		return summary
	}
	vres, err := r.runValidator(ctx, batch)
	if err != nil {
		summary.Error = err.Error()
		summary.Duration = time.Since(started)
		infrastructure.RecordError(ctx, err)
		r.logger.ErrorContext(ctx, "batch failed in validation",
			slog.String("batch_id", batch.BatchID),
			slog.String("error", err.Error()))
		return summary
	}
	summary.Accepted = len(vres.Accepted)
	summary.Rejected = len(vres.Rejected)
	summary.StageScores[domain.StageValidator] = vres.Report.Score
	summary.AlertsRaised += r.observe(ctx, vres.Report)

	// Clean.
	if r.aborted(ctx, &summary, started) {
		return summary
	}
	cres := r.runCleaner(ctx, batch.BatchID, vres.Accepted)
	summary.DuplicatesRemoved = cres.Report.DuplicatesRemoved
	summary.CleanRecords = len(cres.Records)
	summary.StageScores[domain.StageCleaner] = cres.Report.Score
	summary.AlertsRaised += r.observe(ctx, cres.Report)

	// Calculate.
	if r.aborted(ctx, &summary, started) {
		return summary
	}
	mres := r.runCalculator(ctx, batch.BatchID, cres.Records)
	summary.MetricRecords = len(mres.Records)
	summary.StageScores[domain.StageCalculator] = mres.Report.Score
	summary.AlertsRaised += r.observe(ctx, mres.Report)

	// Aggregate.
	if r.aborted(ctx, &summary, started) {
		return summary
	}
	ares := r.runAggregator(ctx, batch.BatchID, mres.Records)
	summary.EntriesCreated = ares.Report.EntriesCreated
	summary.EntriesUpdated = ares.Report.EntriesUpdated
	summary.StageScores[domain.StageAggregator] = ares.Report.Score
	summary.AlertsRaised += r.observe(ctx, ares.Report)

	if r.metrics != nil {
		r.metrics.BatchesTotal.Inc()
		r.metrics.MartEntries.Set(float64(r.mart.Len()))
	}

	// Persist the mart snapshot. A failure after retries raises a critical
	// alert; the in-memory mart stays authoritative.
	if r.persister != nil {
		if err := r.persister.Persist(ctx, r.mart); err != nil {
			summary.AlertsRaised++
			infrastructure.RecordError(ctx, err)
			r.logger.ErrorContext(ctx, "snapshot persistence failed",
				slog.String("batch_id", batch.BatchID),
				slog.String("error", err.Error()))
			if r.dispatcher != nil {
				r.dispatcher.Raise(domain.Alert{
					Severity:  domain.SeverityCritical,
					Stage:     domain.StageAggregator,
					Condition: domain.ConditionPersistenceFailure,
					Message:   "mart snapshot persistence failed: " + err.Error(),
				})
			}
		} else if r.dispatcher != nil {
			r.dispatcher.Resolve(domain.StageAggregator, domain.ConditionPersistenceFailure)
		}
	}

	summary.Duration = time.Since(started)
	r.logger.InfoContext(ctx, "batch complete",
		slog.String("batch_id", batch.BatchID),
		slog.Int("records_in", summary.RecordsIn),
		slog.Int("accepted", summary.Accepted),
		slog.Int("rejected", summary.Rejected),
		slog.Int("entries_created", summary.EntriesCreated),
		slog.Int("entries_updated", summary.EntriesUpdated),
		slog.Duration("duration", summary.Duration))

	return summary
}

func (r *Runner) runValidator(ctx context.Context, batch *ingest.Batch) (*validate.Result, error) {
	ctx, span := r.tracer.Start(ctx, "stage.validate")
	defer span.End()

	done := r.track(ctx, domain.StageValidator)
	res, err := r.validator.ValidateBatch(ctx, batch.BatchID, batch.Records)
	done(len(batch.Records))
	if err != nil {
		return nil, err
	}
	r.reportMetrics(domain.StageValidator, res.Report)
	return res, nil
}

func (r *Runner) runCleaner(ctx context.Context, batchID string, accepted []domain.ValidatedRecord) *clean.Result {
	ctx, span := r.tracer.Start(ctx, "stage.clean")
	defer span.End()

	done := r.track(ctx, domain.StageCleaner)
	res := r.cleaner.CleanBatch(ctx, batchID, accepted)
	done(len(accepted))
	r.reportMetrics(domain.StageCleaner, res.Report)
	return res
}

func (r *Runner) runCalculator(ctx context.Context, batchID string, records []domain.CleanRecord) *calculate.Result {
	ctx, span := r.tracer.Start(ctx, "stage.calculate")
	defer span.End()

	done := r.track(ctx, domain.StageCalculator)
	res := r.calculator.CalculateBatch(ctx, batchID, records)
	done(len(records))
	r.reportMetrics(domain.StageCalculator, res.Report)
	return res
}

func (r *Runner) runAggregator(ctx context.Context, batchID string, records []domain.MetricRecord) *aggregate.Result {
	ctx, span := r.tracer.Start(ctx, "stage.aggregate")
	defer span.End()

	done := r.track(ctx, domain.StageAggregator)
	res := r.aggregator.AggregateBatch(ctx, batchID, records)
	done(len(records))
	r.reportMetrics(domain.StageAggregator, res.Report)
	return res
}

// observe feeds a stage report to the quality monitor and counts the alert
// its transition (if any) produced.
func (r *Runner) observe(ctx context.Context, report domain.QualityReport) int {
	if r.quality == nil {
		return 0
	}
	if t := r.quality.Observe(ctx, report); t != nil {
		return 1
	}
	return 0
}

func (r *Runner) track(ctx context.Context, stage string) func(int) {
	if r.perf == nil {
		return func(int) {}
	}
	return r.perf.Track(ctx, stage)
}

func (r *Runner) reportMetrics(stage string, report domain.QualityReport) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveReport(stage, report.RecordsIn, report.Rejected, report.Score)
}

func (r *Runner) aborted(ctx context.Context, summary *domain.BatchSummary, started time.Time) bool {
	if ctx.Err() == nil {
		return false
	}
	summary.Aborted = true
	summary.Error = ctx.Err().Error()
	summary.Duration = time.Since(started)
	r.logger.WarnContext(ctx, "batch aborted at stage boundary",
		slog.String("batch_id", summary.BatchID))
	return true
}
