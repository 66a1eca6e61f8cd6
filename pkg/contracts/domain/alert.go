package domain

import (
	"fmt"
	"time"
)

// Severity classifies an alert for channel routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Condition kinds raised by the monitors.
const (
	ConditionQualityDegradation = "quality-degradation"
	ConditionSlowStage          = "slow-stage"
	ConditionPersistenceFailure = "persistence-failure"
)

// Alert is the structured payload delivered to notification channels.
type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Stage     string    `json:"stage"`
	Condition string    `json:"condition"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	DedupKey  string    `json:"dedup_key"`
	Ongoing   bool      `json:"ongoing,omitempty"`
}

// AlertDedupKey builds the identity used to suppress repeat alerts for the
// same underlying condition within the cooldown window.
func AlertDedupKey(stage, condition string) string {
	return fmt.Sprintf("%s:%s", stage, condition)
}
