package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

const minimalYAML = `
schemas:
  initiatives:
    fields:
      initiative_id:
        type: text
        required: true
      budget_allocated:
        type: number
        required: true
        min: 0
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.InDelta(t, 80, cfg.Quality.Threshold, 1e-9)
	assert.Equal(t, 3, cfg.Quality.CriticalBreaches)
	assert.Equal(t, 2, cfg.Quality.RecoveryReports)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.Cooldown)
	assert.Equal(t, "unknown", cfg.Cleaning.CategoricalSentinel)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, minimalYAML+`
server:
  port: 9090
quality:
  threshold: 70
  window_size: 5
  critical_breaches: 4
  recovery_reports: 3
  history_size: 20
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 70, cfg.Quality.Threshold, 1e-9)
	assert.Equal(t, 5, cfg.Quality.WindowSize)
	assert.Equal(t, 4, cfg.Quality.CriticalBreaches)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("MARTPIPE_QUALITY_THRESHOLD", "65")
	t.Setenv("MARTPIPE_SERVER_PORT", "7070")

	cfg, err := Load(writeConfigFile(t, minimalYAML))
	require.NoError(t, err)

	assert.InDelta(t, 65, cfg.Quality.Threshold, 1e-9)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	_, err := Load(writeConfigFile(t, "schemas: [not: a: mapping"))
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "no schemas",
			mutate: func(c *Config) { c.Schemas = nil },
		},
		{
			name: "schema without fields",
			mutate: func(c *Config) {
				c.Schemas["empty"] = SchemaConfig{}
			},
		},
		{
			name: "unknown field type",
			mutate: func(c *Config) {
				s := c.Schemas["initiatives"]
				s.Fields["bad"] = FieldRule{Type: "decimal"}
			},
		},
		{
			name: "min greater than max",
			mutate: func(c *Config) {
				min, max := 10.0, 5.0
				s := c.Schemas["initiatives"]
				s.Fields["roi"] = FieldRule{Type: "number", Min: &min, Max: &max}
			},
		},
		{
			name: "business rule references unknown field",
			mutate: func(c *Config) {
				s := c.Schemas["initiatives"]
				s.BusinessRules = []BusinessRule{{ID: "r", Left: "ghost", Op: "lte", Right: "budget_allocated"}}
				c.Schemas["initiatives"] = s
			},
		},
		{
			name: "unknown text case fold",
			mutate: func(c *Config) {
				c.Cleaning.TextCase = "title"
			},
		},
		{
			name: "unknown imputation strategy",
			mutate: func(c *Config) {
				c.Cleaning.Imputation = map[string]string{"roi": "median"}
			},
		},
		{
			name: "time field without bucket",
			mutate: func(c *Config) {
				c.Aggregation.TimeField = "start_date"
				c.Aggregation.TimeBucket = ""
			},
		},
		{
			name: "unknown aggregate op",
			mutate: func(c *Config) {
				c.Aggregation.Operations = map[string][]domain.AggregateOp{"roi": {"median"}}
			},
		},
		{
			name: "non-positive performance budget",
			mutate: func(c *Config) {
				c.Performance.Budgets = map[string]float64{"validator": 0}
			},
		},
		{
			name: "webhook enabled without url",
			mutate: func(c *Config) {
				c.Alerts.Webhook.Enabled = true
				c.Alerts.Webhook.URL = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Schemas = map[string]SchemaConfig{
				"initiatives": {
					Fields: map[string]FieldRule{
						"initiative_id":    {Type: "text", Required: true},
						"budget_allocated": {Type: "number"},
					},
				},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsConfigError(err))
		})
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := Default()
	cfg.Schemas = map[string]SchemaConfig{
		"initiatives": {
			Fields: map[string]FieldRule{
				"initiative_id":    {Type: "text", Required: true},
				"budget_allocated": {Type: "number", Required: true},
				"budget_spent":     {Type: "number"},
				"start_date":       {Type: "timestamp"},
			},
			BusinessRules: []BusinessRule{
				{ID: "budget-overrun", Left: "budget_spent", Op: "lte", Right: "budget_allocated", Scale: 1.2},
			},
		},
	}
	cfg.Cleaning.Imputation = map[string]string{"budget_spent": "zero"}
	cfg.Aggregation.TimeField = "start_date"
	cfg.Aggregation.TimeBucket = "quarter"
	cfg.Performance.Budgets = map[string]float64{"validator": 5000}

	require.NoError(t, cfg.Validate())
}
