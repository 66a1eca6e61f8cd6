package clean

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"martpipe/internal/config"
	"martpipe/pkg/contracts/domain"
)

// Imputation strategy names, configured per numeric field.
const (
	StrategyMeanOfBatch  = "mean-of-batch"
	StrategyCarryForward = "carry-forward-last-known"
	StrategyZero         = "zero"
	strategySentinel     = "sentinel"
)

// Cleaner normalizes, deduplicates and imputes accepted records into typed
// clean records. Parse failures and missing values are flagged and repaired
// here, never rejected: rejection ended at the validator.
type Cleaner struct {
	schemas map[string]config.SchemaConfig
	cfg     config.CleaningConfig
	logger  *slog.Logger

	// lastKnown carries the most recent original numeric value per
	// (source, field) across batches for the carry-forward strategy.
	mu        sync.Mutex
	lastKnown map[string]float64
}

// Result is the outcome of cleaning one batch.
type Result struct {
	Records []domain.CleanRecord
	Report  domain.QualityReport
}

// NewCleaner creates a cleaner for the configured schemas.
func NewCleaner(schemas map[string]config.SchemaConfig, cfg config.CleaningConfig, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CategoricalSentinel == "" {
		cfg.CategoricalSentinel = "unknown"
	}
	return &Cleaner{
		schemas:   schemas,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "cleaner")),
		lastKnown: make(map[string]float64),
	}
}

// CleanBatch consumes accepted validated records and returns clean records.
// Duplicates sharing a natural key collapse to the most recent collection
// timestamp; they are counted and dropped silently.
func (c *Cleaner) CleanBatch(ctx context.Context, batchID string, accepted []domain.ValidatedRecord) *Result {
	report := domain.QualityReport{
		Stage:             domain.StageCleaner,
		BatchID:           batchID,
		ProducedAt:        time.Now().UTC(),
		RecordsIn:         len(accepted),
		ImputedByStrategy: make(map[string]int),
	}

	normalized := make([]domain.CleanRecord, 0, len(accepted))
	for _, vr := range accepted {
		normalized = append(normalized, c.normalizeRecord(vr))
	}

	deduped, removed := c.deduplicate(normalized)
	report.DuplicatesRemoved = removed

	c.impute(deduped, report.ImputedByStrategy)

	report.Accepted = len(deduped)
	result := &Result{Records: deduped, Report: report.Finalize()}

	c.logger.InfoContext(ctx, "batch cleaned",
		slog.String("batch_id", batchID),
		slog.Int("records_in", report.RecordsIn),
		slog.Int("duplicates_removed", removed),
		slog.Int("clean_records", len(deduped)),
		slog.Float64("score", result.Report.Score))

	return result
}

// normalizeRecord converts one validated record into a clean record with
// per-field provenance. Each clean record traces to exactly one validated
// record through TraceID.
func (c *Cleaner) normalizeRecord(vr domain.ValidatedRecord) domain.CleanRecord {
	schema := c.schemas[vr.Raw.Schema]
	cr := domain.CleanRecord{
		TraceID:     vr.ID,
		SourceID:    vr.Raw.SourceID,
		Schema:      vr.Raw.Schema,
		CollectedAt: vr.Raw.CollectedAt,
		Fields:      make(map[string]domain.Field, len(vr.Resolved)),
	}

	for name, rule := range schema.Fields {
		value, ok := vr.Resolved[name]
		if !ok {
			value = domain.NullValue()
		}

		switch rule.Type {
		case "number":
			cr.Fields[name] = c.normalizeNumber(vr.Raw.SourceID, name, value)
		case "text":
			cr.Fields[name] = c.normalizeTextField(value)
		default:
			cr.Fields[name] = domain.Field{Value: value, Provenance: domain.ProvenanceOriginal}
		}
	}

	return cr
}

// normalizeNumber resolves a numeric field, applying locale-aware parsing to
// text payloads. A parse failure leaves the field null for imputation; it is
// not a rejection at this stage.
func (c *Cleaner) normalizeNumber(sourceID, name string, value domain.Value) domain.Field {
	if n, ok := value.AsNumber(); ok {
		c.rememberLastKnown(sourceID, name, n)
		return domain.Field{Value: value, Provenance: domain.ProvenanceOriginal}
	}
	if s, ok := value.AsText(); ok {
		if n, err := ParseDecimal(s); err == nil {
			c.rememberLastKnown(sourceID, name, n)
			return domain.Field{Value: domain.NumberValue(n), Provenance: domain.ProvenanceNormalized}
		}
	}
	return domain.Field{Value: domain.NullValue(), Provenance: domain.ProvenanceOriginal}
}

// normalizeTextField collapses whitespace and applies the configured case
// fold. A field that comes out unchanged keeps its original provenance.
func (c *Cleaner) normalizeTextField(value domain.Value) domain.Field {
	s, ok := value.AsText()
	if !ok {
		return domain.Field{Value: value, Provenance: domain.ProvenanceOriginal}
	}
	normalized := FoldCase(NormalizeText(s), c.cfg.TextCase)
	if normalized == s {
		return domain.Field{Value: value, Provenance: domain.ProvenanceOriginal}
	}
	return domain.Field{Value: domain.TextValue(normalized), Provenance: domain.ProvenanceNormalized}
}

// deduplicate collapses records sharing a natural key (source id + business
// key) to the most recent by collection timestamp.
func (c *Cleaner) deduplicate(records []domain.CleanRecord) ([]domain.CleanRecord, int) {
	if len(c.cfg.NaturalKey) == 0 {
		return records, 0
	}

	latest := make(map[string]int, len(records))
	order := make([]string, 0, len(records))
	removed := 0

	for i, r := range records {
		key := c.naturalKey(r)
		prev, seen := latest[key]
		if !seen {
			latest[key] = i
			order = append(order, key)
			continue
		}
		removed++
		if r.CollectedAt.After(records[prev].CollectedAt) {
			latest[key] = i
		}
	}

	out := make([]domain.CleanRecord, 0, len(order))
	for _, key := range order {
		out = append(out, records[latest[key]])
	}
	return out, removed
}

func (c *Cleaner) naturalKey(r domain.CleanRecord) string {
	parts := make([]string, 0, len(c.cfg.NaturalKey)+1)
	parts = append(parts, r.SourceID)
	for _, name := range c.cfg.NaturalKey {
		if f, ok := r.Fields[name]; ok {
			parts = append(parts, f.Value.String())
		} else {
			parts = append(parts, "")
		}
	}
	return strings.Join(parts, "\x1f")
}

// impute fills missing fields after deduplication. Numeric fields use the
// configured per-field strategy; there is no inferred default, so a missing
// numeric field without a strategy stays null and visible in the report.
// Missing categorical fields take the fixed sentinel category.
func (c *Cleaner) impute(records []domain.CleanRecord, counts map[string]int) {
	means := c.batchMeans(records)

	for i := range records {
		schema := c.schemas[records[i].Schema]

		names := make([]string, 0, len(records[i].Fields))
		for name := range records[i].Fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			field := records[i].Fields[name]
			if !field.Value.IsNull() {
				continue
			}

			rule := schema.Fields[name]
			switch rule.Type {
			case "number":
				strategy, ok := c.cfg.Imputation[name]
				if !ok {
					continue
				}
				if v, ok := c.imputeNumber(records[i].SourceID, name, strategy, means); ok {
					records[i].Fields[name] = domain.Field{Value: domain.NumberValue(v), Provenance: domain.ProvenanceImputed}
					counts[strategy]++
				}
			case "text":
				records[i].Fields[name] = domain.Field{
					Value:      domain.TextValue(c.cfg.CategoricalSentinel),
					Provenance: domain.ProvenanceImputed,
				}
				counts[strategySentinel]++
			}
		}
	}
}

func (c *Cleaner) imputeNumber(sourceID, name, strategy string, means map[string]float64) (float64, bool) {
	switch strategy {
	case StrategyZero:
		return 0, true
	case StrategyMeanOfBatch:
		if mean, ok := means[name]; ok {
			return mean, true
		}
		return 0, false
	case StrategyCarryForward:
		c.mu.Lock()
		defer c.mu.Unlock()
		v, ok := c.lastKnown[lastKnownKey(sourceID, name)]
		return v, ok
	default:
		return 0, false
	}
}

// batchMeans computes the per-field mean over present numeric values, used
// by the mean-of-batch strategy.
func (c *Cleaner) batchMeans(records []domain.CleanRecord) map[string]float64 {
	sums := make(map[string]float64)
	ns := make(map[string]int)
	for _, r := range records {
		for name, f := range r.Fields {
			if n, ok := f.Value.AsNumber(); ok {
				sums[name] += n
				ns[name]++
			}
		}
	}
	means := make(map[string]float64, len(sums))
	for name, sum := range sums {
		means[name] = sum / float64(ns[name])
	}
	return means
}

func (c *Cleaner) rememberLastKnown(sourceID, name string, v float64) {
	c.mu.Lock()
	c.lastKnown[lastKnownKey(sourceID, name)] = v
	c.mu.Unlock()
}

func lastKnownKey(sourceID, name string) string {
	return fmt.Sprintf("%s\x1f%s", sourceID, name)
}
