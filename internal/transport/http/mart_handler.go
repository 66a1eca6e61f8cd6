package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"martpipe/internal/aggregate"
	apierrors "martpipe/internal/errors"
	"martpipe/pkg/contracts/domain"
)

// MartHandler serves read access to the mart. Every response is built from
// entry clones, so queries never block batch merges.
type MartHandler struct {
	mart   *aggregate.Mart
	logger *slog.Logger
}

// NewMartHandler creates a mart handler.
func NewMartHandler(mart *aggregate.Mart, logger *slog.Logger) *MartHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MartHandler{
		mart:   mart,
		logger: logger.With(slog.String("component", "mart_handler")),
	}
}

// Routes returns the mart routes.
func (h *MartHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/", h.Scan)
	r.Get("/{key}", h.Get)
	return r
}

// Get handles GET /api/mart/{key}.
func (h *MartHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entry, err := h.mart.Get(key)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrEntryNotFound)
		return
	}
	render.JSON(w, r, entry)
}

// Scan handles GET /api/mart with optional filters:
//
//	?prefix=2024-Q1          key prefix
//	?dimension=type:Digital  dimension equality, repeatable
//	?metric=margin           entry must carry the metric
//	?min_count=10            minimum record count
func (h *MartHandler) Scan(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	prefix := query.Get("prefix")
	metric := query.Get("metric")

	minCount := 0
	if raw := query.Get("min_count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apierrors.WriteError(w, apierrors.NewWithDetails(http.StatusBadRequest,
				"INVALID_PARAMETER", "min_count must be a non-negative integer", raw))
			return
		}
		minCount = n
	}

	dimensions := make(map[string]string)
	for _, raw := range query["dimension"] {
		name, value, ok := strings.Cut(raw, ":")
		if !ok || name == "" {
			apierrors.WriteError(w, apierrors.NewWithDetails(http.StatusBadRequest,
				"INVALID_PARAMETER", "dimension filter must be name:value", raw))
			return
		}
		dimensions[name] = value
	}

	entries := h.mart.Scan(func(entry domain.MartEntry) bool {
		if prefix != "" && !strings.HasPrefix(entry.Key, prefix) {
			return false
		}
		if entry.RecordCount < int64(minCount) {
			return false
		}
		if metric != "" {
			if _, ok := entry.Metrics[metric]; !ok {
				return false
			}
		}
		for name, value := range dimensions {
			if entry.Dimensions[name] != value {
				return false
			}
		}
		return true
	})

	render.JSON(w, r, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}
