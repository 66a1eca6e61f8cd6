package validate

import (
	"sort"
	"time"

	"martpipe/internal/config"
	"martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

// Violation rule identifier prefixes. A rejected record carries the ordered
// list of violated rule ids, e.g. "required:budget_allocated" or
// "business:budget-overrun".
const (
	RuleRequired      = "required"
	RuleType          = "type"
	RuleRange         = "range"
	RuleReferential   = "ref"
	RuleBusiness      = "business"
	RuleInternalError = "internal-error"
)

// fieldRule is a compiled per-field rule with its fixed evaluation order:
// schema (required + type) first, then range, then referential.
type fieldRule struct {
	name     string
	kind     string
	required bool
	min      *float64
	max      *float64
	allowed  map[string]struct{}
}

// RuleSet is the compiled data contract for one schema.
type RuleSet struct {
	schema   string
	fields   []fieldRule
	business []config.BusinessRule
}

// CompileRuleSet builds a RuleSet from configuration. Invalid rule
// definitions are configuration errors: fatal, the pipeline does not start.
func CompileRuleSet(schema string, cfg config.SchemaConfig) (*RuleSet, error) {
	if len(cfg.Fields) == 0 {
		return nil, errors.NewConfigError("schema %s has no field rules", schema)
	}

	rs := &RuleSet{schema: schema, business: cfg.BusinessRules}

	// Sorted field order keeps rule evaluation deterministic across runs.
	names := make([]string, 0, len(cfg.Fields))
	for name := range cfg.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule := cfg.Fields[name]
		switch rule.Type {
		case "number", "text", "timestamp":
		default:
			return nil, errors.NewConfigError("schema %s: field %s has unknown type %q", schema, name, rule.Type)
		}

		fr := fieldRule{
			name:     name,
			kind:     rule.Type,
			required: rule.Required,
			min:      rule.Min,
			max:      rule.Max,
		}
		if len(rule.Allowed) > 0 {
			fr.allowed = make(map[string]struct{}, len(rule.Allowed))
			for _, v := range rule.Allowed {
				fr.allowed[v] = struct{}{}
			}
		}
		rs.fields = append(rs.fields, fr)
	}

	return rs, nil
}

// resolve converts one untyped raw value into the tagged-union Value for the
// expected kind. ok=false means the value kind is irreconcilable with the
// rule (a type violation). Numeric fields supplied as text resolve to a text
// value here: locale-aware parsing is the cleaner's concern, not a
// validation failure.
func resolve(raw interface{}, kind string) (domain.Value, bool) {
	if raw == nil {
		return domain.NullValue(), true
	}

	switch kind {
	case "number":
		switch v := raw.(type) {
		case float64:
			return domain.NumberValue(v), true
		case float32:
			return domain.NumberValue(float64(v)), true
		case int:
			return domain.NumberValue(float64(v)), true
		case int64:
			return domain.NumberValue(float64(v)), true
		case string:
			return domain.TextValue(v), true
		default:
			return domain.NullValue(), false
		}
	case "text":
		if v, ok := raw.(string); ok {
			return domain.TextValue(v), true
		}
		return domain.NullValue(), false
	case "timestamp":
		switch v := raw.(type) {
		case time.Time:
			return domain.TimestampValue(v), true
		case string:
			if t, err := parseTimestamp(v); err == nil {
				return domain.TimestampValue(t), true
			}
			return domain.NullValue(), false
		default:
			return domain.NullValue(), false
		}
	}
	return domain.NullValue(), false
}

// parseTimestamp accepts the timestamp layouts seen across sources.
func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
