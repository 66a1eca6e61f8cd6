package aggregate

import (
	"fmt"
	"strings"
	"time"

	"martpipe/internal/config"
	"martpipe/pkg/contracts/domain"
)

// unknownDimension labels a dimension whose value could not be resolved.
// Records always land somewhere in the mart; an unresolvable dimension is a
// data quality signal, not a drop.
const unknownDimension = "unknown"

// KeyBuilder derives the mart entry key for a record: the configured time
// bucket plus the configured dimension values, joined with '|'. Two records
// with the same bucket and dimension tuple always map to the same entry.
type KeyBuilder struct {
	timeField  string
	timeBucket string
	dimensions []string
}

// NewKeyBuilder creates a key builder from the aggregation configuration.
func NewKeyBuilder(cfg config.AggregationConfig) *KeyBuilder {
	return &KeyBuilder{
		timeField:  cfg.TimeField,
		timeBucket: cfg.TimeBucket,
		dimensions: cfg.DimensionFields,
	}
}

// Key returns the entry key and the dimension values that compose it.
func (b *KeyBuilder) Key(record domain.CleanRecord) (string, map[string]string) {
	parts := make([]string, 0, len(b.dimensions)+1)
	dims := make(map[string]string, len(b.dimensions)+1)

	if b.timeField != "" {
		bucket := unknownDimension
		if ts, ok := record.Timestamp(b.timeField); ok {
			bucket = FormatBucket(ts, b.timeBucket)
		}
		parts = append(parts, bucket)
		dims[b.timeField] = bucket
	}

	for _, name := range b.dimensions {
		value := unknownDimension
		if s, ok := record.Text(name); ok && s != "" {
			value = s
		}
		parts = append(parts, value)
		dims[name] = value
	}

	return strings.Join(parts, "|"), dims
}

// FormatBucket truncates a timestamp to the configured bucket granularity.
// Quarters render as "2024-Q1" so that keys sort chronologically as text.
func FormatBucket(ts time.Time, bucket string) string {
	ts = ts.UTC()
	switch bucket {
	case "day":
		return ts.Format("2006-01-02")
	case "month":
		return ts.Format("2006-01")
	case "quarter":
		quarter := (int(ts.Month())-1)/3 + 1
		return fmt.Sprintf("%d-Q%d", ts.Year(), quarter)
	default:
		return ts.Format("2006-01-02")
	}
}
