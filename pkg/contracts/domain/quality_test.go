package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name   string
		report QualityReport
		want   float64
	}{
		{
			name:   "empty batch is perfect",
			report: QualityReport{RecordsIn: 0},
			want:   100,
		},
		{
			name:   "all accepted no flags",
			report: QualityReport{RecordsIn: 50, Accepted: 50},
			want:   100,
		},
		{
			name:   "acceptance ratio sets the base",
			report: QualityReport{RecordsIn: 100, Accepted: 90, Rejected: 10},
			want:   90,
		},
		{
			name: "flagged fields deduct proportionally",
			report: QualityReport{
				RecordsIn:         100,
				Accepted:          100,
				ImputedByStrategy: map[string]int{"zero": 8},
			},
			want: 98,
		},
		{
			name: "penalty is capped at 25",
			report: QualityReport{
				RecordsIn:         10,
				Accepted:          10,
				UndefinedByMetric: map[string]int{"roi": 100},
			},
			want: 75,
		},
		{
			name: "duplicates count as flags",
			report: QualityReport{
				RecordsIn:         40,
				Accepted:          35,
				DuplicatesRemoved: 5,
			},
			want: 84.38,
		},
		{
			name:   "all rejected floors at zero",
			report: QualityReport{RecordsIn: 10, Accepted: 0, Rejected: 10},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeScore(tt.report), 1e-9)
		})
	}
}

func TestComputeScoreIsPure(t *testing.T) {
	report := QualityReport{
		RecordsIn:         20,
		Accepted:          18,
		Rejected:          2,
		ImputedByStrategy: map[string]int{"mean-of-batch": 3},
	}
	first := ComputeScore(report)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ComputeScore(report))
	}
}

func TestFinalizeStampsScore(t *testing.T) {
	report := QualityReport{RecordsIn: 4, Accepted: 3, Rejected: 1}.Finalize()
	assert.InDelta(t, 75, report.Score, 1e-9)
}

func TestFlaggedFields(t *testing.T) {
	report := QualityReport{
		DuplicatesRemoved: 2,
		ImputedByStrategy: map[string]int{"zero": 1, "carry-forward-last-known": 3},
		UndefinedByMetric: map[string]int{"roi": 4},
	}
	assert.Equal(t, 10, report.FlaggedFields())
}
