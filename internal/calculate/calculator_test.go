package calculate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

func cleanRecord(fields map[string]float64) domain.CleanRecord {
	cr := domain.CleanRecord{
		TraceID:  "tr-1",
		SourceID: "erp-eu",
		Schema:   "initiatives",
		Fields:   make(map[string]domain.Field, len(fields)),
	}
	for name, v := range fields {
		cr.Fields[name] = domain.Field{Value: domain.NumberValue(v), Provenance: domain.ProvenanceOriginal}
	}
	return cr
}

func TestCalculateBatchComputesMetrics(t *testing.T) {
	c, err := NewCalculator(BuiltinRegistry(), []string{"budget_utilization", "net_impact"}, nil)
	require.NoError(t, err)

	res := c.CalculateBatch(context.Background(), "b1", []domain.CleanRecord{
		cleanRecord(map[string]float64{
			"budget_spent":     60000,
			"budget_allocated": 100000,
			"revenue_impact":   20000,
			"cost_reduction":   5000,
		}),
	})

	require.Len(t, res.Records, 1)
	metrics := res.Records[0].Metrics

	require.True(t, metrics["budget_utilization"].Defined)
	assert.InDelta(t, 0.6, metrics["budget_utilization"].Value, 1e-9)
	require.True(t, metrics["net_impact"].Defined)
	assert.InDelta(t, 25000, metrics["net_impact"].Value, 1e-9)
}

func TestMissingInputMakesMetricUndefined(t *testing.T) {
	c, err := NewCalculator(BuiltinRegistry(), []string{"budget_utilization"}, nil)
	require.NoError(t, err)

	res := c.CalculateBatch(context.Background(), "b1", []domain.CleanRecord{
		cleanRecord(map[string]float64{"budget_spent": 60000}),
	})

	require.Len(t, res.Records, 1)
	assert.False(t, res.Records[0].Metrics["budget_utilization"].Defined)
	assert.Equal(t, 1, res.Report.UndefinedByMetric["budget_utilization"])
}

func TestDivisionByZeroIsUndefinedNotZero(t *testing.T) {
	c, err := NewCalculator(BuiltinRegistry(), []string{"budget_utilization", "margin"}, nil)
	require.NoError(t, err)

	res := c.CalculateBatch(context.Background(), "b1", []domain.CleanRecord{
		cleanRecord(map[string]float64{
			"budget_spent":     60000,
			"budget_allocated": 0,
			"revenue":          0,
			"cost":             0,
		}),
	})

	require.Len(t, res.Records, 1)
	assert.False(t, res.Records[0].Metrics["budget_utilization"].Defined)
	assert.False(t, res.Records[0].Metrics["margin"].Defined)
	assert.Equal(t, 1, res.Report.UndefinedByMetric["budget_utilization"])
	assert.Equal(t, 1, res.Report.UndefinedByMetric["margin"])
}

func TestEfficiencyIndexBlendsAndClamps(t *testing.T) {
	c, err := NewCalculator(BuiltinRegistry(), []string{"efficiency_index"}, nil)
	require.NoError(t, err)

	res := c.CalculateBatch(context.Background(), "b1", []domain.CleanRecord{
		cleanRecord(map[string]float64{
			"efficiency_gain_percentage": 15,
			"quality_score":              8,
			"employee_satisfaction":      4,
		}),
		cleanRecord(map[string]float64{
			"efficiency_gain_percentage": 90,
			"quality_score":              10,
			"employee_satisfaction":      5,
		}),
	})

	require.Len(t, res.Records, 2)
	require.True(t, res.Records[0].Metrics["efficiency_index"].Defined)
	// 15*0.4 + 8*0.2 + 4*2
	assert.InDelta(t, 15.6, res.Records[0].Metrics["efficiency_index"].Value, 1e-9)
	// Blend far above the cap clamps to 20.
	assert.InDelta(t, 20, res.Records[1].Metrics["efficiency_index"].Value, 1e-9)
}

func healthRecord(overrides map[string]float64) domain.CleanRecord {
	fields := map[string]float64{
		"budget_spent":               90000,
		"budget_allocated":           100000,
		"elapsed_days":               80,
		"planned_days":               100,
		"roi_percentage":             22,
		"efficiency_gain_percentage": 20,
		"quality_score":              10,
		"employee_satisfaction":      5,
	}
	for name, v := range overrides {
		fields[name] = v
	}
	return cleanRecord(fields)
}

func TestHealthScoreCompositeBands(t *testing.T) {
	c, err := NewCalculator(BuiltinRegistry(), []string{"health_score"}, nil)
	require.NoError(t, err)

	res := c.CalculateBatch(context.Background(), "b1", []domain.CleanRecord{
		// 25 (utilization 0.9) + 20 (progress 0.8) + 30 (roi 22) + 20 = 95.
		healthRecord(nil),
		// 10 (utilization 1.15) + 5 (progress 1.1) + 15 (roi 7) + 3 = 33.
		healthRecord(map[string]float64{
			"budget_spent":               115000,
			"elapsed_days":               110,
			"roi_percentage":             7,
			"efficiency_gain_percentage": 5,
			"quality_score":              5,
			"employee_satisfaction":      0,
		}),
		// Unknown budget plan forfeits the budget band, the rest still count.
		healthRecord(map[string]float64{"budget_allocated": 0}),
	})

	require.Len(t, res.Records, 3)
	for i := 0; i < 3; i++ {
		require.True(t, res.Records[i].Metrics["health_score"].Defined)
	}
	assert.InDelta(t, 95, res.Records[0].Metrics["health_score"].Value, 1e-9)
	assert.InDelta(t, 33, res.Records[1].Metrics["health_score"].Value, 1e-9)
	assert.InDelta(t, 70, res.Records[2].Metrics["health_score"].Value, 1e-9)
}

func TestHealthBandThresholds(t *testing.T) {
	assert.Equal(t, "Excellent", HealthBand(95))
	assert.Equal(t, "Excellent", HealthBand(80))
	assert.Equal(t, "Good", HealthBand(70))
	assert.Equal(t, "Warning", HealthBand(50))
	assert.Equal(t, "Critical", HealthBand(33))
}

func TestPanicIsolatesRecordNotBatch(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Formula{
		Name:   "explosive",
		Inputs: []string{"x"},
		Fn: func(in map[string]float64) float64 {
			if in["x"] > 0 {
				panic("bad formula")
			}
			return in["x"]
		},
	}))

	c, err := NewCalculator(registry, []string{"explosive"}, nil)
	require.NoError(t, err)

	res := c.CalculateBatch(context.Background(), "b1", []domain.CleanRecord{
		cleanRecord(map[string]float64{"x": 1}),
		cleanRecord(map[string]float64{"x": -1}),
	})

	// The poison record is isolated; the survivor still computes.
	require.Len(t, res.Records, 1)
	assert.InDelta(t, -1, res.Records[0].Metrics["explosive"].Value, 1e-9)
	assert.Equal(t, 1, res.Report.Rejected)
	assert.Equal(t, 1, res.Report.Violations["internal-error"])
}

func TestUnknownFormulaIsConfigError(t *testing.T) {
	_, err := NewCalculator(BuiltinRegistry(), []string{"no_such_metric"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	f := Formula{Name: "m", Inputs: []string{"a"}, Fn: func(in map[string]float64) float64 { return in["a"] }}
	require.NoError(t, r.Register(f))
	assert.Error(t, r.Register(f))
	assert.Equal(t, 1, r.Count())
}

func TestBuiltinRegistryNames(t *testing.T) {
	names := BuiltinRegistry().Names()
	assert.Contains(t, names, "budget_utilization")
	assert.Contains(t, names, "roi")
	assert.Contains(t, names, "margin")
}
