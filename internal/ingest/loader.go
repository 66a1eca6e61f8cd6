package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

// Batch is one finite unit of ingested records. Records within a batch carry
// no ordering guarantee; recency comes only from per-record collection
// timestamps.
type Batch struct {
	BatchID     string
	SourceID    string
	Schema      string
	CollectedAt time.Time
	Records     []domain.RawRecord
}

// batchFile is the on-disk JSON layout.
type batchFile struct {
	SourceID    string       `json:"source_id"`
	Schema      string       `json:"schema"`
	CollectedAt time.Time    `json:"collected_at"`
	Records     []recordFile `json:"records"`
}

type recordFile struct {
	CollectedAt *time.Time             `json:"collected_at,omitempty"`
	Fields      map[string]interface{} `json:"fields"`
}

// Loader reads batch files from disk.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a batch loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger.With(slog.String("component", "ingest"))}
}

// LoadFile parses one batch file. Malformed JSON, a missing source or
// schema, or a record that is not a field mapping are all fatal
// configuration errors: a batch that cannot be interpreted must not be
// partially processed.
func (l *Loader) LoadFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("read batch file %s: %v", path, err)
	}

	var bf batchFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return nil, errors.NewConfigError("parse batch file %s: %v", path, err)
	}
	if bf.SourceID == "" {
		return nil, errors.NewConfigError("batch file %s has no source_id", path)
	}
	if bf.Schema == "" {
		return nil, errors.NewConfigError("batch file %s has no schema", path)
	}

	batch := &Batch{
		BatchID:     uuid.NewString(),
		SourceID:    bf.SourceID,
		Schema:      bf.Schema,
		CollectedAt: bf.CollectedAt,
		Records:     make([]domain.RawRecord, 0, len(bf.Records)),
	}

	for i, rf := range bf.Records {
		if rf.Fields == nil {
			return nil, errors.NewConfigError("batch file %s: record %d is not a field mapping", path, i)
		}
		collectedAt := bf.CollectedAt
		if rf.CollectedAt != nil {
			collectedAt = *rf.CollectedAt
		}
		batch.Records = append(batch.Records, domain.RawRecord{
			SourceID:    bf.SourceID,
			Schema:      bf.Schema,
			CollectedAt: collectedAt,
			Fields:      rf.Fields,
		})
	}

	l.logger.Info("batch loaded",
		slog.String("batch_id", batch.BatchID),
		slog.String("path", path),
		slog.String("source_id", batch.SourceID),
		slog.String("schema", batch.Schema),
		slog.Int("records", len(batch.Records)))

	return batch, nil
}

// ListBatchFiles returns the batch files under dir in stable name order.
func (l *Loader) ListBatchFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, errors.NewConfigError("scan input dir %s: %v", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no batch files in %s", dir)
	}
	sort.Strings(matches)
	return matches, nil
}
