package domain

import (
	"time"
)

// BatchSummary is the operator-facing result of one pipeline invocation.
// Every invocation returns a summary regardless of partial failures so that
// operators always see a complete picture of what happened to the batch.
type BatchSummary struct {
	BatchID   string        `json:"batch_id"`
	SourceID  string        `json:"source_id"`
	Schema    string        `json:"schema"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	RecordsIn         int `json:"records_in"`
	Accepted          int `json:"accepted"`
	Rejected          int `json:"rejected"`
	DuplicatesRemoved int `json:"duplicates_removed"`
	CleanRecords      int `json:"clean_records"`
	MetricRecords     int `json:"metric_records"`
	EntriesCreated    int `json:"entries_created"`
	EntriesUpdated    int `json:"entries_updated"`

	StageScores  map[string]float64 `json:"stage_scores"`
	AlertsRaised int                `json:"alerts_raised"`
	Aborted      bool               `json:"aborted,omitempty"`
	Error        string             `json:"error,omitempty"`
}
