package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"martpipe/internal/app"
	"martpipe/internal/config"
	"martpipe/internal/exporter"
	"martpipe/pkg/contracts/domain"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	inputDir := flag.String("in", "", "input directory for batch files (overrides config)")
	exportCSV := flag.String("export-csv", "", "write the final mart as CSV to this path")
	exportJSON := flag.String("export-json", "", "write the final mart as JSON to this path")
	exportXLSX := flag.String("export-xlsx", "", "write the final mart as an Excel workbook to this path")
	flag.Parse()

	if err := run(*configPath, *inputDir, *exportCSV, *exportJSON, *exportXLSX); err != nil {
		slog.Error("pipeline failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath, inputDir, exportCSV, exportJSON, exportXLSX string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if inputDir == "" {
		inputDir = cfg.Pipeline.InputDir
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.Start(ctx)
	defer application.Shutdown(context.Background())

	files, err := application.Loader.ListBatchFiles(inputDir)
	if err != nil {
		return err
	}

	// Load files concurrently; any unreadable batch aborts the run before
	// processing starts, because a misread batch is a configuration error.
	g, loadCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Pipeline.Workers)

	summaries := make(chan domain.BatchSummary, len(files))
	go func() {
		for summary := range application.Queue.Results() {
			summaries <- summary
			printSummary(summary)
		}
		close(summaries)
	}()

	for _, path := range files {
		g.Go(func() error {
			if loadCtx.Err() != nil {
				return loadCtx.Err()
			}
			batch, err := application.Loader.LoadFile(path)
			if err != nil {
				return err
			}
			// Block until the workers free a slot: a run over more files than
			// the queue holds must not abort on backpressure.
			return application.Queue.EnqueueWait(loadCtx, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := application.Queue.Stop(cfg.Server.ShutdownTimeout); err != nil {
		return err
	}

	total := 0
	for range summaries {
		total++
	}
	application.Logger.Info("run complete",
		slog.Int("batches", total),
		slog.Int("mart_entries", application.Mart.Len()))

	return export(application, exportCSV, exportJSON, exportXLSX)
}

func export(application *app.Application, csvPath, jsonPath, xlsxPath string) error {
	if csvPath == "" && jsonPath == "" && xlsxPath == "" {
		return nil
	}
	ex := exporter.New(application.Logger)
	entries := application.Mart.Snapshot()

	if csvPath != "" {
		if err := ex.WriteCSV(csvPath, entries, exporter.WriteOptions{BOMPrefix: true}); err != nil {
			return err
		}
	}
	if jsonPath != "" {
		if err := ex.WriteJSON(jsonPath, entries); err != nil {
			return err
		}
	}
	if xlsxPath != "" {
		if err := ex.WriteExcel(xlsxPath, entries); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(summary domain.BatchSummary) {
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	fmt.Println(string(data))
}
