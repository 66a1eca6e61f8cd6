package validate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"martpipe/internal/config"
	"martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

// Validator checks raw records against the compiled rule sets and partitions
// each batch into disjoint accepted and rejected sequences. A record with
// zero violations is accepted; any violation rejects it. Rule evaluation is
// deterministic: schema rules first, then range rules, then referential
// rules, then cross-field business rules. The first failing rule
// short-circuits further checks for that field but not for other fields, so
// one record can carry violations across several fields.
type Validator struct {
	rulesets map[string]*RuleSet
	logger   *slog.Logger
}

// Result is the outcome of validating one batch.
type Result struct {
	Accepted []domain.ValidatedRecord
	Rejected []domain.ValidatedRecord
	Report   domain.QualityReport
}

// NewValidator compiles every configured schema. An invalid rule set is a
// fatal configuration error.
func NewValidator(schemas map[string]config.SchemaConfig, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(schemas) == 0 {
		return nil, errors.NewConfigError("validator requires at least one schema")
	}

	rulesets := make(map[string]*RuleSet, len(schemas))
	for name, cfg := range schemas {
		rs, err := CompileRuleSet(name, cfg)
		if err != nil {
			return nil, err
		}
		rulesets[name] = rs
	}

	return &Validator{
		rulesets: rulesets,
		logger:   logger.With(slog.String("component", "validator")),
	}, nil
}

// ValidateBatch validates a batch of raw records. An unknown schema is a
// fatal configuration error, never a per-record rejection; missing or
// invalid field values are per-record rejections, never fatal.
func (v *Validator) ValidateBatch(ctx context.Context, batchID string, records []domain.RawRecord) (*Result, error) {
	report := domain.QualityReport{
		Stage:      domain.StageValidator,
		BatchID:    batchID,
		ProducedAt: time.Now().UTC(),
		RecordsIn:  len(records),
		Violations: make(map[string]int),
	}

	result := &Result{
		Accepted: make([]domain.ValidatedRecord, 0, len(records)),
		Rejected: make([]domain.ValidatedRecord, 0),
	}

	for _, raw := range records {
		rs, ok := v.rulesets[raw.Schema]
		if !ok {
			return nil, errors.NewConfigError("unknown schema %q for source %s", raw.Schema, raw.SourceID)
		}
		if raw.Fields == nil {
			return nil, errors.NewConfigError("record from source %s is not a field mapping", raw.SourceID)
		}

		vr := v.validateRecord(rs, raw)
		for _, violation := range vr.Violations {
			report.Violations[violation]++
		}
		if vr.Accepted() {
			result.Accepted = append(result.Accepted, vr)
		} else {
			result.Rejected = append(result.Rejected, vr)
		}
	}

	report.Accepted = len(result.Accepted)
	report.Rejected = len(result.Rejected)
	result.Report = report.Finalize()

	v.logger.InfoContext(ctx, "batch validated",
		slog.String("batch_id", batchID),
		slog.Int("records_in", report.RecordsIn),
		slog.Int("accepted", report.Accepted),
		slog.Int("rejected", report.Rejected),
		slog.Float64("score", result.Report.Score))

	return result, nil
}

// validateRecord evaluates all rules for one record and resolves its fields
// into the typed value union.
func (v *Validator) validateRecord(rs *RuleSet, raw domain.RawRecord) domain.ValidatedRecord {
	vr := domain.ValidatedRecord{
		ID:       uuid.NewString(),
		Raw:      raw,
		Resolved: make(map[string]domain.Value, len(rs.fields)),
	}

	for _, fr := range rs.fields {
		rawValue, present := raw.Fields[fr.name]

		// Schema: required check.
		if !present || rawValue == nil {
			if fr.required {
				vr.Violations = append(vr.Violations, fmt.Sprintf("%s:%s", RuleRequired, fr.name))
			} else {
				vr.Resolved[fr.name] = domain.NullValue()
			}
			continue
		}

		// Schema: type resolution into the tagged union.
		value, ok := resolve(rawValue, fr.kind)
		if !ok {
			vr.Violations = append(vr.Violations, fmt.Sprintf("%s:%s", RuleType, fr.name))
			continue
		}
		vr.Resolved[fr.name] = value

		// Range check applies to resolved numbers only; text passed through
		// for the cleaner's locale parsing is out of range-check reach here.
		if n, isNum := value.AsNumber(); isNum {
			if (fr.min != nil && n < *fr.min) || (fr.max != nil && n > *fr.max) {
				vr.Violations = append(vr.Violations, fmt.Sprintf("%s:%s", RuleRange, fr.name))
				continue
			}
		}

		// Referential check against the known dimension set.
		if fr.allowed != nil {
			if s, isText := value.AsText(); isText {
				if _, known := fr.allowed[s]; !known {
					vr.Violations = append(vr.Violations, fmt.Sprintf("%s:%s", RuleReferential, fr.name))
					continue
				}
			}
		}
	}

	// Cross-field business rules run last, only over cleanly resolved
	// operands; a field already in violation is not double-counted.
	for _, rule := range rs.business {
		if violated := v.evaluateBusinessRule(rule, vr.Resolved); violated {
			vr.Violations = append(vr.Violations, fmt.Sprintf("%s:%s", RuleBusiness, rule.ID))
		}
	}

	if len(vr.Violations) == 0 {
		vr.Verdict = domain.VerdictAccepted
	} else {
		vr.Verdict = domain.VerdictRejected
	}
	return vr
}

// evaluateBusinessRule compares two resolved fields. Rules over numbers and
// timestamps are supported; missing or mistyped operands leave the rule
// unevaluated rather than violated.
func (v *Validator) evaluateBusinessRule(rule config.BusinessRule, resolved map[string]domain.Value) bool {
	left, lok := resolved[rule.Left]
	right, rok := resolved[rule.Right]
	if !lok || !rok {
		return false
	}

	scale := rule.Scale
	if scale == 0 {
		scale = 1
	}

	if ln, ok := left.AsNumber(); ok {
		rn, ok := right.AsNumber()
		if !ok {
			return false
		}
		return !compare(ln, rn*scale, rule.Op)
	}

	if lt, ok := left.AsTimestamp(); ok {
		rt, ok := right.AsTimestamp()
		if !ok {
			return false
		}
		return !compareTime(lt, rt, rule.Op)
	}

	return false
}

func compare(a, b float64, op string) bool {
	switch op {
	case "lte":
		return a <= b
	case "gte":
		return a >= b
	case "lt":
		return a < b
	case "gt":
		return a > b
	default:
		return true
	}
}

func compareTime(a, b time.Time, op string) bool {
	switch op {
	case "lte":
		return !a.After(b)
	case "gte":
		return !a.Before(b)
	case "lt":
		return a.Before(b)
	case "gt":
		return a.After(b)
	default:
		return true
	}
}
