package domain

import (
	"time"
)

// AggregateOp is an aggregation operation applied to one metric within a
// mart entry. All supported operations are associative and commutative so
// that merging disjoint batches in any order yields the same aggregates.
type AggregateOp string

const (
	OpSum         AggregateOp = "sum"
	OpCount       AggregateOp = "count"
	OpRunningMean AggregateOp = "running-mean"
	OpMin         AggregateOp = "min"
	OpMax         AggregateOp = "max"
)

// Accumulator carries enough state to merge further batches without
// re-reading history. The running mean uses Welford's incremental update to
// avoid precision loss on long-lived entries.
type Accumulator struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Add folds one defined metric value into the accumulator. Undefined values
// must be filtered out by the caller; they never reach an accumulator.
func (a *Accumulator) Add(x float64) {
	a.Count++
	a.Sum += x
	a.Mean += (x - a.Mean) / float64(a.Count)
	if a.Count == 1 || x < a.Min {
		a.Min = x
	}
	if a.Count == 1 || x > a.Max {
		a.Max = x
	}
}

// Merge folds another accumulator into this one. Used when combining a
// persisted entry with freshly aggregated state.
func (a *Accumulator) Merge(b Accumulator) {
	if b.Count == 0 {
		return
	}
	if a.Count == 0 {
		*a = b
		return
	}
	total := a.Count + b.Count
	a.Mean += (b.Mean - a.Mean) * float64(b.Count) / float64(total)
	a.Sum += b.Sum
	if b.Min < a.Min {
		a.Min = b.Min
	}
	if b.Max > a.Max {
		a.Max = b.Max
	}
	a.Count = total
}

// Get returns the aggregate value for the requested operation.
func (a Accumulator) Get(op AggregateOp) float64 {
	switch op {
	case OpSum:
		return a.Sum
	case OpCount:
		return float64(a.Count)
	case OpRunningMean:
		return a.Mean
	case OpMin:
		return a.Min
	case OpMax:
		return a.Max
	default:
		return 0
	}
}

// MartEntry is one keyed aggregate in the mart: a dimension key mapped to
// per-metric accumulators. Entries are mutated in place by incremental merge
// and never rebuilt from history.
type MartEntry struct {
	Key          string                 `json:"key"`
	Dimensions   map[string]string      `json:"dimensions"`
	Metrics      map[string]Accumulator `json:"metrics"`
	RecordCount  int64                  `json:"record_count"`
	UpdatedAt    time.Time              `json:"updated_at"`
	BatchesStale int                    `json:"batches_stale"`
}

// Clone returns a deep copy safe to hand to readers while merges continue.
func (e MartEntry) Clone() MartEntry {
	out := e
	out.Dimensions = make(map[string]string, len(e.Dimensions))
	for k, v := range e.Dimensions {
		out.Dimensions[k] = v
	}
	out.Metrics = make(map[string]Accumulator, len(e.Metrics))
	for k, v := range e.Metrics {
		out.Metrics[k] = v
	}
	return out
}
