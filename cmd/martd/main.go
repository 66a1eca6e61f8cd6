package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"martpipe/internal/app"
	"martpipe/internal/config"
	"martpipe/internal/ingest"
	httptransport "martpipe/internal/transport/http"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	watchDir := flag.String("in", "", "process batch files from this directory on startup")
	flag.Parse()

	if err := run(*configPath, *watchDir); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath, watchDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.Start(ctx)
	defer application.Shutdown(context.Background())

	// Drain summaries in the background; the HTTP surface is the read side.
	go func() {
		for summary := range application.Queue.Results() {
			application.Logger.Info("batch summary",
				slog.String("batch_id", summary.BatchID),
				slog.Int("records_in", summary.RecordsIn),
				slog.Int("rejected", summary.Rejected),
				slog.Int("alerts_raised", summary.AlertsRaised))
		}
	}()

	if watchDir != "" {
		if err := enqueueDir(application, watchDir); err != nil {
			return err
		}
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Mart:       application.Mart,
		Quality:    application.Quality,
		Dispatcher: application.Dispatcher,
		Metrics:    application.Metrics,
		Hub:        application.Hub,
		Logger:     application.Logger,
	})
	server := httptransport.NewServer(cfg.Server, router, application.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		application.Logger.Info("shutdown signal received")
		return server.Shutdown(context.Background())
	}
}

func enqueueDir(application *app.Application, dir string) error {
	files, err := application.Loader.ListBatchFiles(dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		var batch *ingest.Batch
		if batch, err = application.Loader.LoadFile(path); err != nil {
			return err
		}
		if err = application.Queue.Enqueue(batch); err != nil {
			return err
		}
	}
	return nil
}
