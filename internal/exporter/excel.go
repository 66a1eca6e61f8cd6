package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"martpipe/pkg/contracts/domain"
)

const martSheet = "Mart"

// WriteExcel exports entries as a single-sheet workbook with a bold frozen
// header row, matching the CSV column layout.
func (e *Exporter) WriteExcel(path string, entries []domain.MartEntry) error {
	dims, metrics := columns(entries)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(martSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	header := headerRow(dims, metrics)
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(martSheet, cell, title); err != nil {
			return fmt.Errorf("write header cell: %w", err)
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(martSheet, "A1", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetPanes(martSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	for rowIdx, entry := range entries {
		row := rowIdx + 2
		cells := excelRow(entry, dims, metrics)
		for col, value := range cells {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return fmt.Errorf("entry cell: %w", err)
			}
			if err := f.SetCellValue(martSheet, cell, value); err != nil {
				return fmt.Errorf("write entry %s: %w", entry.Key, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	e.logger.Info("mart exported to Excel",
		slog.String("path", path),
		slog.Int("entries", len(entries)))
	return nil
}

// excelRow mirrors entryRow but keeps numbers numeric so spreadsheet
// formulas work on the exported cells.
func excelRow(entry domain.MartEntry, dims, metrics []string) []interface{} {
	row := []interface{}{entry.Key}
	for _, dim := range dims {
		row = append(row, entry.Dimensions[dim])
	}
	row = append(row, entry.RecordCount, entry.UpdatedAt.UTC().Format(time.RFC3339))
	for _, metric := range metrics {
		acc, ok := entry.Metrics[metric]
		if !ok {
			row = append(row, int64(0), "", "", "", "")
			continue
		}
		row = append(row, acc.Count, acc.Sum, acc.Mean, acc.Min, acc.Max)
	}
	if hasMetric(metrics, healthMetric) {
		row = append(row, healthStatus(entry))
	}
	return row
}
