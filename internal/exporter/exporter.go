package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"martpipe/internal/calculate"
	"martpipe/pkg/contracts/domain"
)

// healthMetric is the composite metric that carries a reporting band in
// exports.
const healthMetric = "health_score"

// Exporter writes mart snapshots for analysts: CSV for spreadsheets, JSON
// for downstream tooling, Excel workbooks for reporting. All writers take a
// point-in-time entry slice so exports never race with ongoing merges.
type Exporter struct {
	logger *slog.Logger
}

// New creates an exporter.
func New(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger.With(slog.String("component", "exporter"))}
}

// WriteOptions configures CSV writing behavior.
type WriteOptions struct {
	// BOMPrefix adds a UTF-8 BOM so Excel opens the file correctly.
	BOMPrefix bool
}

// WriteCSV exports entries as one row per entry: key, dimensions, record
// count, then count/sum/mean/min/max per metric.
func (e *Exporter) WriteCSV(path string, entries []domain.MartEntry, options WriteOptions) error {
	dims, metrics := columns(entries)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}
	defer file.Close()

	if options.BOMPrefix {
		if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return fmt.Errorf("write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(headerRow(dims, metrics)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, entry := range entries {
		if err := writer.Write(entryRow(entry, dims, metrics)); err != nil {
			return fmt.Errorf("write entry %s: %w", entry.Key, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}

	e.logger.Info("mart exported to CSV",
		slog.String("path", path),
		slog.Int("entries", len(entries)))
	return nil
}

// WriteJSON exports entries as an indented JSON array.
func (e *Exporter) WriteJSON(path string, entries []domain.MartEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	data, err := json.MarshalIndent(struct {
		ExportedAt time.Time          `json:"exported_at"`
		Entries    []domain.MartEntry `json:"entries"`
	}{
		ExportedAt: time.Now().UTC(),
		Entries:    entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}

	e.logger.Info("mart exported to JSON",
		slog.String("path", path),
		slog.Int("entries", len(entries)))
	return nil
}

func headerRow(dims, metrics []string) []string {
	header := append([]string{"key"}, dims...)
	header = append(header, "record_count", "updated_at")
	for _, metric := range metrics {
		header = append(header,
			metric+"_count",
			metric+"_sum",
			metric+"_mean",
			metric+"_min",
			metric+"_max")
	}
	if hasMetric(metrics, healthMetric) {
		header = append(header, "health_status")
	}
	return header
}

func entryRow(entry domain.MartEntry, dims, metrics []string) []string {
	row := []string{entry.Key}
	for _, dim := range dims {
		row = append(row, entry.Dimensions[dim])
	}
	row = append(row,
		strconv.FormatInt(entry.RecordCount, 10),
		entry.UpdatedAt.UTC().Format(time.RFC3339))
	for _, metric := range metrics {
		acc, ok := entry.Metrics[metric]
		if !ok {
			row = append(row, "0", "", "", "", "")
			continue
		}
		row = append(row,
			strconv.FormatInt(acc.Count, 10),
			formatFloat(acc.Sum),
			formatFloat(acc.Mean),
			formatFloat(acc.Min),
			formatFloat(acc.Max))
	}
	if hasMetric(metrics, healthMetric) {
		row = append(row, healthStatus(entry))
	}
	return row
}

func hasMetric(metrics []string, name string) bool {
	for _, metric := range metrics {
		if metric == name {
			return true
		}
	}
	return false
}

// healthStatus classifies the entry's mean health score; entries without the
// metric stay blank.
func healthStatus(entry domain.MartEntry) string {
	acc, ok := entry.Metrics[healthMetric]
	if !ok || acc.Count == 0 {
		return ""
	}
	return calculate.HealthBand(acc.Mean)
}

// columns derives the stable dimension and metric column orders across all
// entries, so exports from the same mart always line up.
func columns(entries []domain.MartEntry) (dims, metrics []string) {
	dimSet := make(map[string]bool)
	metricSet := make(map[string]bool)
	for _, entry := range entries {
		for name := range entry.Dimensions {
			dimSet[name] = true
		}
		for name := range entry.Metrics {
			metricSet[name] = true
		}
	}
	for name := range dimSet {
		dims = append(dims, name)
	}
	for name := range metricSet {
		metrics = append(metrics, name)
	}
	sort.Strings(dims)
	sort.Strings(metrics)
	return dims, metrics
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
