package calculate

// BuiltinRegistry returns the registry of built-in business metric formulas.
// Division by zero and non-finite results are handled by the calculator, not
// by the formulas themselves.
func BuiltinRegistry() *Registry {
	r := NewRegistry()

	// Registration cannot fail for the builtins: names are unique and every
	// formula carries a function.
	for _, f := range builtins() {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
	return r
}

func builtins() []Formula {
	return []Formula{
		{
			Name:   "budget_utilization",
			Inputs: []string{"budget_spent", "budget_allocated"},
			Fn: func(in map[string]float64) float64 {
				return in["budget_spent"] / in["budget_allocated"]
			},
		},
		{
			Name:   "budget_remaining",
			Inputs: []string{"budget_allocated", "budget_spent"},
			Fn: func(in map[string]float64) float64 {
				return in["budget_allocated"] - in["budget_spent"]
			},
		},
		{
			Name:   "burn_rate",
			Inputs: []string{"budget_spent", "elapsed_days"},
			Fn: func(in map[string]float64) float64 {
				return in["budget_spent"] / in["elapsed_days"]
			},
		},
		{
			Name:   "roi",
			Inputs: []string{"revenue_impact", "cost_reduction", "budget_spent"},
			Fn: func(in map[string]float64) float64 {
				return (in["revenue_impact"]+in["cost_reduction"])/in["budget_spent"] - 1
			},
		},
		{
			Name:   "net_impact",
			Inputs: []string{"revenue_impact", "cost_reduction"},
			Fn: func(in map[string]float64) float64 {
				return in["revenue_impact"] + in["cost_reduction"]
			},
		},
		{
			Name:   "efficiency_index",
			Inputs: []string{"efficiency_gain_percentage", "quality_score", "employee_satisfaction"},
			Fn: func(in map[string]float64) float64 {
				return operationalScore(in["efficiency_gain_percentage"], in["quality_score"], in["employee_satisfaction"])
			},
		},
		{
			Name:   "margin",
			Inputs: []string{"revenue", "cost"},
			Fn: func(in map[string]float64) float64 {
				return (in["revenue"] - in["cost"]) / in["revenue"]
			},
		},
		{
			Name: "health_score",
			Inputs: []string{
				"budget_spent", "budget_allocated", "elapsed_days", "planned_days",
				"roi_percentage", "efficiency_gain_percentage", "quality_score",
				"employee_satisfaction",
			},
			Fn: func(in map[string]float64) float64 {
				return budgetScore(in["budget_spent"]/in["budget_allocated"]) +
					timeScore(in["elapsed_days"]/in["planned_days"]) +
					financialScore(in["roi_percentage"]) +
					operationalScore(in["efficiency_gain_percentage"], in["quality_score"], in["employee_satisfaction"])
			},
		},
	}
}

// health_score is the composite of four banded sub-scores: budget discipline
// (up to 25), schedule adherence (up to 20), financial return (up to 30) and
// operational performance (up to 20).

// budgetScore rewards spending close to plan; both heavy under- and
// overspend band down to zero.
func budgetScore(utilization float64) float64 {
	switch {
	case utilization >= 0.8 && utilization <= 1.0:
		return 25
	case (utilization >= 0.6 && utilization < 0.8) || (utilization > 1.0 && utilization <= 1.1):
		return 20
	case (utilization >= 0.4 && utilization < 0.6) || (utilization > 1.1 && utilization <= 1.2):
		return 10
	default:
		return 0
	}
}

// timeScore bands elapsed time against the planned duration. A non-finite
// progress ratio (unknown plan length) bands to zero.
func timeScore(progress float64) float64 {
	switch {
	case progress <= 0.9:
		return 20
	case progress <= 1.0:
		return 15
	case progress <= 1.2:
		return 5
	default:
		return 0
	}
}

// financialScore bands the reported ROI percentage.
func financialScore(roiPct float64) float64 {
	switch {
	case roiPct >= 20:
		return 30
	case roiPct >= 15:
		return 25
	case roiPct >= 10:
		return 20
	case roiPct >= 5:
		return 15
	case roiPct >= 0:
		return 10
	default:
		return 0
	}
}

// operationalScore blends efficiency gain, quality and satisfaction into a
// 0-20 score. Doubles as the efficiency_index metric.
func operationalScore(efficiencyGainPct, qualityScore, satisfaction float64) float64 {
	score := efficiencyGainPct*0.4 + qualityScore*0.2 + satisfaction*2
	if score < 0 {
		return 0
	}
	if score > 20 {
		return 20
	}
	return score
}

// HealthBand classifies a composite health score for reporting.
func HealthBand(score float64) string {
	switch {
	case score >= 80:
		return "Excellent"
	case score >= 65:
		return "Good"
	case score >= 50:
		return "Warning"
	default:
		return "Critical"
	}
}
