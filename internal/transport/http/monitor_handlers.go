package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"martpipe/internal/alerts"
	"martpipe/internal/quality"
)

// QualityHandler serves the quality monitor's read side.
type QualityHandler struct {
	monitor *quality.Monitor
	logger  *slog.Logger
}

// NewQualityHandler creates a quality handler.
func NewQualityHandler(monitor *quality.Monitor, logger *slog.Logger) *QualityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QualityHandler{
		monitor: monitor,
		logger:  logger.With(slog.String("component", "quality_handler")),
	}
}

// Routes returns the quality routes.
func (h *QualityHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/", h.Status)
	r.Get("/{stage}/history", h.History)
	return r
}

// Status handles GET /api/quality.
func (h *QualityHandler) Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"stages": h.monitor.Status(),
	})
}

// History handles GET /api/quality/{stage}/history.
func (h *QualityHandler) History(w http.ResponseWriter, r *http.Request) {
	stage := chi.URLParam(r, "stage")
	reports := h.monitor.History(stage)
	render.JSON(w, r, map[string]interface{}{
		"stage":   stage,
		"count":   len(reports),
		"reports": reports,
	})
}

// AlertsHandler serves the dispatcher's retained alert history.
type AlertsHandler struct {
	dispatcher *alerts.Dispatcher
	logger     *slog.Logger
}

// NewAlertsHandler creates an alerts handler.
func NewAlertsHandler(dispatcher *alerts.Dispatcher, logger *slog.Logger) *AlertsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertsHandler{
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "alerts_handler")),
	}
}

// Routes returns the alert routes.
func (h *AlertsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/", h.List)
	return r
}

// List handles GET /api/alerts.
func (h *AlertsHandler) List(w http.ResponseWriter, r *http.Request) {
	history := h.dispatcher.History()
	render.JSON(w, r, map[string]interface{}{
		"count":      len(history),
		"suppressed": h.dispatcher.Suppressed(),
		"alerts":     history,
	})
}
