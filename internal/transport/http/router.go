package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"martpipe/internal/aggregate"
	"martpipe/internal/alerts"
	"martpipe/internal/perf"
	"martpipe/internal/quality"
	"martpipe/internal/websocket"
)

// RouterDeps bundles everything the HTTP surface reads from.
type RouterDeps struct {
	Mart       *aggregate.Mart
	Quality    *quality.Monitor
	Dispatcher *alerts.Dispatcher
	Metrics    *perf.Metrics
	Hub        *websocket.Hub
	Logger     *slog.Logger
}

// NewRouter assembles the full route tree: the read API, the prometheus
// endpoint and the live alert feed.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Mount("/mart", NewMartHandler(deps.Mart, logger).Routes())
		r.Mount("/quality", NewQualityHandler(deps.Quality, logger).Routes())
		r.Mount("/alerts", NewAlertsHandler(deps.Dispatcher, logger).Routes())
	})

	r.Get("/healthz", healthz(deps))

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			deps.Metrics.Registry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}

	if deps.Hub != nil {
		r.Get("/ws", websocket.Handler(deps.Hub, logger))
	}

	return r
}

func healthz(deps RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status": "ok",
			"time":   time.Now().UTC(),
		}
		if deps.Mart != nil {
			status["mart_entries"] = deps.Mart.Len()
		}
		if deps.Quality != nil {
			status["stages"] = deps.Quality.Status()
		}
		if deps.Hub != nil {
			status["ws_clients"] = deps.Hub.ClientCount()
		}
		render.JSON(w, r, status)
	}
}
