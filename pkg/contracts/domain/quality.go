package domain

import (
	"math"
	"time"
)

// Stage names used throughout reports, monitors and alerts.
const (
	StageValidator  = "validator"
	StageCleaner    = "cleaner"
	StageCalculator = "calculator"
	StageAggregator = "aggregator"
)

// QualityReport is the per-stage-invocation quality snapshot. Immutable once
// produced; the quality monitor retains a bounded history per stage for trend
// detection.
type QualityReport struct {
	Stage      string    `json:"stage"`
	BatchID    string    `json:"batch_id"`
	ProducedAt time.Time `json:"produced_at"`

	RecordsIn int `json:"records_in"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`

	// Violations histograms rule id -> occurrence count across the batch.
	Violations map[string]int `json:"violations,omitempty"`

	// Stage-specific counters.
	DuplicatesRemoved int            `json:"duplicates_removed,omitempty"`
	ImputedByStrategy map[string]int `json:"imputed_by_strategy,omitempty"`
	UndefinedByMetric map[string]int `json:"undefined_by_metric,omitempty"`
	EntriesCreated    int            `json:"entries_created,omitempty"`
	EntriesUpdated    int            `json:"entries_updated,omitempty"`
	StaleEntries      int            `json:"stale_entries,omitempty"`

	Score float64 `json:"score"`
}

// FlaggedFields returns the count of per-field quality incidents the report
// carries beyond outright rejection: imputations, undefined metrics and
// removed duplicates all reduce the score without rejecting records.
func (r QualityReport) FlaggedFields() int {
	n := r.DuplicatesRemoved
	for _, c := range r.ImputedByStrategy {
		n += c
	}
	for _, c := range r.UndefinedByMetric {
		n += c
	}
	return n
}

// ComputeScore derives the 0-100 quality score from a report's counts. It is
// a pure function of the counts: the same report always scores the same,
// independent of when it is computed.
//
// The acceptance ratio sets the base; flagged fields (imputed, undefined,
// deduplicated) deduct up to 25 points in proportion to their share of the
// batch.
func ComputeScore(r QualityReport) float64 {
	if r.RecordsIn <= 0 {
		return 100
	}
	base := 100 * float64(r.Accepted) / float64(r.RecordsIn)
	penalty := 100 * float64(r.FlaggedFields()) / float64(4*r.RecordsIn)
	if penalty > 25 {
		penalty = 25
	}
	score := base - penalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return math.Round(score*100) / 100
}

// Finalize stamps the deterministic score onto the report and returns it.
func (r QualityReport) Finalize() QualityReport {
	r.Score = ComputeScore(r)
	return r
}
