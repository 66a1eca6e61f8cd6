package domain

import (
	"time"
)

// RawRecord is a single ingested record: an unordered mapping of field name
// to untyped value, tagged with its source and collection time. Immutable
// once ingested.
type RawRecord struct {
	SourceID    string                 `json:"source_id"`
	Schema      string                 `json:"schema"`
	CollectedAt time.Time              `json:"collected_at"`
	Fields      map[string]interface{} `json:"fields"`
}

// Verdict is the validation outcome for one raw record.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
)

// ValidatedRecord pairs a raw record with its verdict. Rejected records carry
// the ordered list of violated rule identifiers. Never mutated after creation.
type ValidatedRecord struct {
	ID         string           `json:"id"`
	Raw        RawRecord        `json:"raw"`
	Verdict    Verdict          `json:"verdict"`
	Violations []string         `json:"violations,omitempty"`
	Resolved   map[string]Value `json:"resolved,omitempty"`
}

// Accepted reports whether the record passed validation.
func (r ValidatedRecord) Accepted() bool {
	return r.Verdict == VerdictAccepted
}

// Provenance marks how a clean field obtained its value.
type Provenance string

const (
	ProvenanceOriginal   Provenance = "original"
	ProvenanceImputed    Provenance = "imputed"
	ProvenanceNormalized Provenance = "normalized"
)

// Field is a typed clean field with its provenance flag.
type Field struct {
	Value      Value      `json:"value"`
	Provenance Provenance `json:"provenance"`
}

// CleanRecord is the typed, normalized, deduplicated form of an accepted
// record. TraceID links back to exactly one ValidatedRecord for audit.
type CleanRecord struct {
	TraceID     string           `json:"trace_id"`
	SourceID    string           `json:"source_id"`
	Schema      string           `json:"schema"`
	CollectedAt time.Time        `json:"collected_at"`
	Fields      map[string]Field `json:"fields"`
}

// Number returns the numeric value of a field if it is present, numeric and
// non-null.
func (r CleanRecord) Number(name string) (float64, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return 0, false
	}
	return f.Value.AsNumber()
}

// Text returns the text value of a field if present.
func (r CleanRecord) Text(name string) (string, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return "", false
	}
	return f.Value.AsText()
}

// Timestamp returns the temporal value of a field if present.
func (r CleanRecord) Timestamp(name string) (time.Time, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return time.Time{}, false
	}
	return f.Value.AsTimestamp()
}

// MetricValue is a derived metric result: a number, or undefined when the
// formula inputs were insufficient. Undefined propagates; it is never
// replaced by a computed default.
type MetricValue struct {
	Defined bool    `json:"defined"`
	Value   float64 `json:"value,omitempty"`
}

// DefinedMetric wraps a computed numeric result.
func DefinedMetric(v float64) MetricValue {
	return MetricValue{Defined: true, Value: v}
}

// UndefinedMetric is the undefined metric result.
func UndefinedMetric() MetricValue {
	return MetricValue{}
}

// MetricRecord augments a clean record with named derived metric values.
type MetricRecord struct {
	Clean   CleanRecord            `json:"clean"`
	Metrics map[string]MetricValue `json:"metrics"`
}
