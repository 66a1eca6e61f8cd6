package app

import (
	"context"
	"fmt"
	"log/slog"

	"martpipe/internal/aggregate"
	"martpipe/internal/alerts"
	"martpipe/internal/calculate"
	"martpipe/internal/clean"
	"martpipe/internal/config"
	"martpipe/internal/infrastructure"
	"martpipe/internal/ingest"
	"martpipe/internal/perf"
	"martpipe/internal/pipeline"
	"martpipe/internal/quality"
	"martpipe/internal/validate"
	"martpipe/internal/websocket"
	"martpipe/pkg/contracts/domain"
)

// Application wires the pipeline, monitors and alerting from one validated
// configuration. Both binaries build the same graph; the server additionally
// mounts the HTTP surface on top of it.
type Application struct {
	Config *config.Config
	Logger *slog.Logger
	OTel   *infrastructure.OTelProviders

	Loader     *ingest.Loader
	Mart       *aggregate.Mart
	Persister  *aggregate.Persister
	Quality    *quality.Monitor
	Perf       *perf.Monitor
	Metrics    *perf.Metrics
	Hub        *websocket.Hub
	Dispatcher *alerts.Dispatcher
	Runner     *pipeline.Runner
	Queue      *pipeline.Queue
}

// New builds the application graph. Any configuration problem surfaces here
// as a fatal error before a single record is processed.
func New(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(logger)

	providers, err := infrastructure.InitializeOTel(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}

	validator, err := validate.NewValidator(cfg.Schemas, logger)
	if err != nil {
		return nil, err
	}
	cleaner := clean.NewCleaner(cfg.Schemas, cfg.Cleaning, logger)
	calculator, err := calculate.NewCalculator(calculate.BuiltinRegistry(), cfg.Metrics.Enabled, logger)
	if err != nil {
		return nil, err
	}

	mart := aggregate.NewMart()
	aggregator := aggregate.NewAggregator(mart, cfg.Aggregation, logger)
	persister := aggregate.NewPersister(cfg.Pipeline, logger)
	if err := persister.Load(mart); err != nil {
		return nil, err
	}

	metrics := perf.NewMetrics()
	qualityMonitor := quality.NewMonitor(cfg.Quality, logger)
	perfMonitor := perf.NewMonitor(cfg.Performance, metrics, logger)

	hub := websocket.NewHub(logger)

	dispatcher := alerts.NewDispatcher(cfg.Alerts, logger)
	dispatcher.AddChannel(alerts.NewLogChannel(logger), domain.SeverityInfo)
	dispatcher.AddChannel(alerts.NewWebsocketChannel(hub), domain.SeverityInfo)
	if cfg.Alerts.Webhook.Enabled {
		dispatcher.AddChannel(alerts.NewWebhookChannel(cfg.Alerts.Webhook), domain.SeverityWarning)
	}
	dispatcher.OnDeliver = func(alert domain.Alert) {
		metrics.AlertsTotal.WithLabelValues(string(alert.Severity)).Inc()
	}

	alerts.BindQualityMonitor(dispatcher, qualityMonitor)
	alerts.BindPerfMonitor(dispatcher, perfMonitor)

	runner := pipeline.NewRunner(pipeline.Deps{
		Validator:  validator,
		Cleaner:    cleaner,
		Calculator: calculator,
		Aggregator: aggregator,
		Mart:       mart,
		Persister:  persister,
		Quality:    qualityMonitor,
		Perf:       perfMonitor,
		Metrics:    metrics,
		Dispatcher: dispatcher,
		Tracer:     providers.Tracer,
		Logger:     logger,
	})
	queue := pipeline.NewQueue(runner, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)

	return &Application{
		Config:     cfg,
		Logger:     logger,
		OTel:       providers,
		Loader:     ingest.NewLoader(logger),
		Mart:       mart,
		Persister:  persister,
		Quality:    qualityMonitor,
		Perf:       perfMonitor,
		Metrics:    metrics,
		Hub:        hub,
		Dispatcher: dispatcher,
		Runner:     runner,
		Queue:      queue,
	}, nil
}

// Start launches the background machinery: the alert loop, the websocket hub
// and the batch workers.
func (a *Application) Start(ctx context.Context) {
	a.Hub.Start()
	a.Dispatcher.Start(ctx)
	a.Queue.Start(ctx)
}

// Shutdown stops background work and flushes telemetry.
func (a *Application) Shutdown(ctx context.Context) {
	if err := a.Queue.Stop(a.Config.Server.ShutdownTimeout); err != nil {
		a.Logger.Warn("queue shutdown", slog.String("error", err.Error()))
	}
	a.Dispatcher.Stop()
	a.Hub.Stop()
	if err := a.OTel.Shutdown(ctx); err != nil {
		a.Logger.Warn("tracing shutdown", slog.String("error", err.Error()))
	}
	infrastructure.CloseLogFile()
}
