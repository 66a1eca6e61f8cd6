package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

// Config is the complete static configuration surface supplied at pipeline
// construction. There is no hot-reload: a Config is validated once and then
// treated as immutable.
type Config struct {
	Logging     LoggingConfig           `yaml:"logging" envconfig:"LOGGING"`
	Server      ServerConfig            `yaml:"server" envconfig:"SERVER"`
	Pipeline    PipelineConfig          `yaml:"pipeline" envconfig:"PIPELINE"`
	Schemas     map[string]SchemaConfig `yaml:"schemas"`
	Cleaning    CleaningConfig          `yaml:"cleaning"`
	Metrics     MetricsConfig           `yaml:"metrics"`
	Aggregation AggregationConfig       `yaml:"aggregation"`
	Quality     QualityConfig           `yaml:"quality" envconfig:"QUALITY"`
	Performance PerformanceConfig       `yaml:"performance"`
	Alerts      AlertsConfig            `yaml:"alerts" envconfig:"ALERTS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// ServerConfig contains the mart API server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=0,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// PipelineConfig contains batch execution settings
type PipelineConfig struct {
	Workers        int           `yaml:"workers" envconfig:"WORKERS" validate:"min=1"`
	QueueSize      int           `yaml:"queue_size" envconfig:"QUEUE_SIZE" validate:"min=1"`
	InputDir       string        `yaml:"input_dir" envconfig:"INPUT_DIR"`
	SnapshotPath   string        `yaml:"snapshot_path" envconfig:"SNAPSHOT_PATH"`
	PersistTimeout time.Duration `yaml:"persist_timeout" envconfig:"PERSIST_TIMEOUT"`
	PersistRetry   RetryConfig   `yaml:"persist_retry"`
}

// RetryConfig defines bounded exponential backoff for external calls
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"min=1"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// FieldRule constrains a single raw field
type FieldRule struct {
	Type     string   `yaml:"type" validate:"oneof=number text timestamp"`
	Required bool     `yaml:"required"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
	// Allowed lists the known dimension values for referential checks.
	Allowed []string `yaml:"allowed,omitempty"`
}

// BusinessRule is a cross-field constraint evaluated after per-field rules
type BusinessRule struct {
	ID    string  `yaml:"id" validate:"required"`
	Left  string  `yaml:"left" validate:"required"`
	Op    string  `yaml:"op" validate:"oneof=lte gte lt gt"`
	Right string  `yaml:"right" validate:"required"`
	// Scale multiplies the right-hand side, e.g. budget_spent <= 1.2 *
	// budget_allocated. Zero means 1.
	Scale float64 `yaml:"scale,omitempty"`
}

// SchemaConfig is the rule set (data contract) for one record schema
type SchemaConfig struct {
	Fields        map[string]FieldRule `yaml:"fields"`
	BusinessRules []BusinessRule       `yaml:"business_rules,omitempty"`
}

// CleaningConfig drives normalization, deduplication and imputation
type CleaningConfig struct {
	// NaturalKey names the business key fields; together with the source id
	// they identify duplicates within a batch.
	NaturalKey []string `yaml:"natural_key"`
	// Imputation selects a strategy per numeric field. There is no inferred
	// default: a missing numeric field without a configured strategy stays
	// undefined and is flagged.
	Imputation map[string]string `yaml:"imputation"`
	// CategoricalSentinel replaces missing categorical values.
	CategoricalSentinel string `yaml:"categorical_sentinel"`
	// TextCase folds normalized text fields to "lower" or "upper". Empty or
	// "none" preserves the source casing.
	TextCase string `yaml:"text_case" validate:"omitempty,oneof=none lower upper"`
}

// MetricsConfig selects formulas from the calculator registry
type MetricsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// AggregationConfig defines the mart dimension tuple and per-metric ops
type AggregationConfig struct {
	TimeField        string                          `yaml:"time_field"`
	TimeBucket       string                          `yaml:"time_bucket" validate:"omitempty,oneof=day month quarter"`
	DimensionFields  []string                        `yaml:"dimension_fields"`
	Operations       map[string][]domain.AggregateOp `yaml:"operations"`
	StalenessBatches int                             `yaml:"staleness_batches" validate:"min=1"`
}

// QualityConfig tunes the quality monitor hysteresis
type QualityConfig struct {
	Threshold        float64 `yaml:"threshold" envconfig:"THRESHOLD" validate:"min=0,max=100"`
	WindowSize       int     `yaml:"window_size" envconfig:"WINDOW_SIZE" validate:"min=1"`
	CriticalBreaches int     `yaml:"critical_breaches" envconfig:"CRITICAL_BREACHES" validate:"min=1"`
	RecoveryReports  int     `yaml:"recovery_reports" envconfig:"RECOVERY_REPORTS" validate:"min=1"`
	HistorySize      int     `yaml:"history_size" envconfig:"HISTORY_SIZE" validate:"min=1"`
}

// PerformanceConfig sets stage throughput budgets in records per second
type PerformanceConfig struct {
	Budgets         map[string]float64 `yaml:"budgets"`
	SlowConsecutive int                `yaml:"slow_consecutive" validate:"min=1"`
}

// WebhookConfig configures the HTTP notification channel
type WebhookConfig struct {
	Enabled bool          `yaml:"enabled" envconfig:"ENABLED"`
	URL     string        `yaml:"url" envconfig:"URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	RPS     float64       `yaml:"rps" envconfig:"RPS"`
	Burst   int           `yaml:"burst" envconfig:"BURST"`
}

// AlertsConfig tunes the dispatcher
type AlertsConfig struct {
	Cooldown    time.Duration `yaml:"cooldown" envconfig:"COOLDOWN"`
	Heartbeat   time.Duration `yaml:"heartbeat" envconfig:"HEARTBEAT"`
	QueueSize   int           `yaml:"queue_size" envconfig:"QUEUE_SIZE" validate:"min=1"`
	HistorySize int           `yaml:"history_size" envconfig:"HISTORY_SIZE" validate:"min=1"`
	Webhook     WebhookConfig `yaml:"webhook" envconfig:"WEBHOOK"`
}

// Load builds the configuration in three layers: defaults, then an optional
// YAML file, then MARTPIPE-prefixed environment variables. Any validation
// failure is a fatal configuration error; the pipeline must not start.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewConfigError("read config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewConfigError("parse config file %s: %v", path, err)
		}
	}

	if err := envconfig.Process("MARTPIPE", cfg); err != nil {
		return nil, errors.NewConfigError("process environment: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural constraints and cross-section consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.NewConfigError("invalid configuration: %v", err)
	}

	if len(c.Schemas) == 0 {
		return errors.NewConfigError("at least one schema must be configured")
	}
	for name, schema := range c.Schemas {
		if len(schema.Fields) == 0 {
			return errors.NewConfigError("schema %s has no field rules", name)
		}
		for field, rule := range schema.Fields {
			switch rule.Type {
			case "number", "text", "timestamp":
			default:
				return errors.NewConfigError("schema %s: field %s has unknown type %q", name, field, rule.Type)
			}
			if rule.Min != nil && rule.Max != nil && *rule.Min > *rule.Max {
				return errors.NewConfigError("schema %s: field %s has min > max", name, field)
			}
		}
		for _, rule := range schema.BusinessRules {
			if _, ok := schema.Fields[rule.Left]; !ok {
				return errors.NewConfigError("schema %s: business rule %s references unknown field %s", name, rule.ID, rule.Left)
			}
			if _, ok := schema.Fields[rule.Right]; !ok {
				return errors.NewConfigError("schema %s: business rule %s references unknown field %s", name, rule.ID, rule.Right)
			}
		}
	}

	for field, strategy := range c.Cleaning.Imputation {
		switch strategy {
		case "mean-of-batch", "carry-forward-last-known", "zero":
		default:
			return errors.NewConfigError("unknown imputation strategy %q for field %s", strategy, field)
		}
	}

	if c.Aggregation.TimeField != "" && c.Aggregation.TimeBucket == "" {
		return errors.NewConfigError("aggregation time_bucket required when time_field is set")
	}
	for metric, ops := range c.Aggregation.Operations {
		for _, op := range ops {
			switch op {
			case domain.OpSum, domain.OpCount, domain.OpRunningMean, domain.OpMin, domain.OpMax:
			default:
				return errors.NewConfigError("unknown aggregate operation %q for metric %s", op, metric)
			}
		}
	}

	for stage, budget := range c.Performance.Budgets {
		if budget <= 0 {
			return errors.NewConfigError("performance budget for %s must be positive", stage)
		}
	}

	if c.Alerts.Webhook.Enabled && c.Alerts.Webhook.URL == "" {
		return errors.NewConfigError("webhook channel enabled without a URL")
	}

	return nil
}

// Default returns the default configuration. Schemas, imputation strategies
// and dimension fields have no usable defaults and must come from the file.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "both",
			FilePath: "logs/martpipe.log",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Workers:        4,
			QueueSize:      16,
			InputDir:       "data/raw",
			SnapshotPath:   "data/mart/snapshot.json",
			PersistTimeout: 10 * time.Second,
			PersistRetry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2.0,
			},
		},
		Cleaning: CleaningConfig{
			CategoricalSentinel: "unknown",
		},
		Aggregation: AggregationConfig{
			TimeBucket:       "quarter",
			StalenessBatches: 10,
		},
		Quality: QualityConfig{
			Threshold:        80,
			WindowSize:       10,
			CriticalBreaches: 3,
			RecoveryReports:  2,
			HistorySize:      100,
		},
		Performance: PerformanceConfig{
			SlowConsecutive: 2,
		},
		Alerts: AlertsConfig{
			Cooldown:    5 * time.Minute,
			Heartbeat:   15 * time.Minute,
			QueueSize:   256,
			HistorySize: 200,
			Webhook: WebhookConfig{
				Timeout: 5 * time.Second,
				RPS:     1,
				Burst:   5,
			},
		},
	}
}
