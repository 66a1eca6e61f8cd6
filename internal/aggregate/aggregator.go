package aggregate

import (
	"context"
	"log/slog"
	"time"

	"martpipe/internal/config"
	"martpipe/pkg/contracts/domain"
)

// Aggregator folds metric records into the mart. Aggregation is incremental:
// each batch is first reduced to partial per-key accumulators, then the
// partials merge into the stored entries. Because every operation is
// associative and commutative, disjoint batches merge to the same mart in
// any order.
type Aggregator struct {
	mart    *Mart
	keys    *KeyBuilder
	ops     map[string][]domain.AggregateOp
	staleAt int
	logger  *slog.Logger
}

// Result is the outcome of aggregating one batch.
type Result struct {
	Report domain.QualityReport
}

// NewAggregator creates an aggregator bound to a mart.
func NewAggregator(mart *Mart, cfg config.AggregationConfig, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		mart:    mart,
		keys:    NewKeyBuilder(cfg),
		ops:     cfg.Operations,
		staleAt: cfg.StalenessBatches,
		logger:  logger.With(slog.String("component", "aggregator")),
	}
}

// AggregateBatch merges one batch of metric records into the mart. Undefined
// metric values never reach an accumulator: they were already counted against
// the calculator's score and must not distort sums or means here.
func (a *Aggregator) AggregateBatch(ctx context.Context, batchID string, records []domain.MetricRecord) *Result {
	report := domain.QualityReport{
		Stage:      domain.StageAggregator,
		BatchID:    batchID,
		ProducedAt: time.Now().UTC(),
		RecordsIn:  len(records),
	}

	partials := a.reduce(records)

	touched := make(map[string]bool, len(partials))
	for key, partial := range partials {
		if a.mart.Merge(*partial) {
			report.EntriesCreated++
		} else {
			report.EntriesUpdated++
		}
		touched[key] = true
	}

	report.StaleEntries = a.mart.AdvanceStaleness(touched, a.staleAt)
	report.Accepted = len(records)
	result := &Result{Report: report.Finalize()}

	a.logger.InfoContext(ctx, "batch aggregated",
		slog.String("batch_id", batchID),
		slog.Int("records_in", len(records)),
		slog.Int("entries_created", report.EntriesCreated),
		slog.Int("entries_updated", report.EntriesUpdated),
		slog.Int("stale_entries", report.StaleEntries))

	return result
}

// reduce folds the batch into per-key partial entries before touching the
// shared mart, so each stored entry is locked at most once per batch.
func (a *Aggregator) reduce(records []domain.MetricRecord) map[string]*domain.MartEntry {
	partials := make(map[string]*domain.MartEntry)

	for _, mr := range records {
		key, dims := a.keys.Key(mr.Clean)
		partial, ok := partials[key]
		if !ok {
			partial = &domain.MartEntry{
				Key:        key,
				Dimensions: dims,
				Metrics:    make(map[string]domain.Accumulator),
			}
			partials[key] = partial
		}

		for name, mv := range mr.Metrics {
			if !mv.Defined {
				continue
			}
			if len(a.ops) > 0 {
				if _, wanted := a.ops[name]; !wanted {
					continue
				}
			}
			acc := partial.Metrics[name]
			acc.Add(mv.Value)
			partial.Metrics[name] = acc
		}
		partial.RecordCount++
	}

	return partials
}
