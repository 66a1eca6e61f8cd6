package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"martpipe/internal/aggregate"
	"martpipe/internal/alerts"
	"martpipe/internal/config"
	"martpipe/internal/perf"
	"martpipe/internal/quality"
	"martpipe/pkg/contracts/domain"
)

func testMart(t *testing.T) *aggregate.Mart {
	t.Helper()
	margin := domain.Accumulator{}
	margin.Add(0.9)

	mart := aggregate.NewMart()
	mart.Restore([]domain.MartEntry{
		{
			Key:         "2024-Q1|Digital",
			Dimensions:  map[string]string{"department": "Digital"},
			Metrics:     map[string]domain.Accumulator{"margin": margin},
			RecordCount: 12,
			UpdatedAt:   time.Now().UTC(),
		},
		{
			Key:         "2024-Q2|Operations",
			Dimensions:  map[string]string{"department": "Operations"},
			Metrics:     map[string]domain.Accumulator{"roi": margin},
			RecordCount: 3,
			UpdatedAt:   time.Now().UTC(),
		},
	})
	return mart
}

func testRouter(t *testing.T) (http.Handler, *quality.Monitor, *alerts.Dispatcher) {
	t.Helper()

	monitor := quality.NewMonitor(config.QualityConfig{
		Threshold:        80,
		WindowSize:       10,
		CriticalBreaches: 3,
		RecoveryReports:  2,
		HistorySize:      10,
	}, nil)

	dispatcher := alerts.NewDispatcher(config.AlertsConfig{
		Cooldown:    time.Minute,
		Heartbeat:   time.Hour,
		QueueSize:   16,
		HistorySize: 16,
	}, nil)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	router := NewRouter(RouterDeps{
		Mart:       testMart(t),
		Quality:    monitor,
		Dispatcher: dispatcher,
		Metrics:    perf.NewMetrics(),
	})
	return router, monitor, dispatcher
}

func doRequest(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGetMartEntry(t *testing.T) {
	router, _, _ := testRouter(t)

	rec := doRequest(t, router, "/api/mart/"+url.PathEscape("2024-Q1|Digital"))
	require.Equal(t, http.StatusOK, rec.Code)

	var entry domain.MartEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "2024-Q1|Digital", entry.Key)
	assert.Equal(t, int64(12), entry.RecordCount)
	assert.InDelta(t, 0.9, entry.Metrics["margin"].Mean, 1e-9)
}

func TestGetMartEntryNotFound(t *testing.T) {
	router, _, _ := testRouter(t)

	rec := doRequest(t, router, "/api/mart/absent")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScanMart(t *testing.T) {
	router, _, _ := testRouter(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all entries", "", 2},
		{"prefix", "?prefix=2024-Q1", 1},
		{"dimension", "?dimension=department:Operations", 1},
		{"metric", "?metric=margin", 1},
		{"min count", "?min_count=10", 1},
		{"no match", "?prefix=2030", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, "/api/mart"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)

			var payload struct {
				Count   int                `json:"count"`
				Entries []domain.MartEntry `json:"entries"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.Equal(t, tt.want, payload.Count)
			assert.Len(t, payload.Entries, tt.want)
		})
	}
}

func TestScanMartBadParameters(t *testing.T) {
	router, _, _ := testRouter(t)

	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, "/api/mart?min_count=lots").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, router, "/api/mart?dimension=nocolon").Code)
}

func TestQualityStatusAndHistory(t *testing.T) {
	router, monitor, _ := testRouter(t)

	monitor.Observe(context.Background(), domain.QualityReport{
		Stage: domain.StageCleaner, BatchID: "b1", Score: 95,
	})

	rec := doRequest(t, router, "/api/quality")
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Stages []quality.StageStatus `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Stages, 1)
	assert.Equal(t, domain.StageCleaner, status.Stages[0].Stage)

	rec = doRequest(t, router, "/api/quality/cleaner/history")
	require.Equal(t, http.StatusOK, rec.Code)

	var history struct {
		Stage   string                 `json:"stage"`
		Count   int                    `json:"count"`
		Reports []domain.QualityReport `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, 1, history.Count)
	assert.InDelta(t, 95, history.Reports[0].Score, 1e-9)
}

func TestAlertsList(t *testing.T) {
	router, _, dispatcher := testRouter(t)

	dispatcher.Raise(domain.Alert{
		Severity:  domain.SeverityWarning,
		Stage:     domain.StageCleaner,
		Condition: domain.ConditionQualityDegradation,
	})
	require.Eventually(t, func() bool { return len(dispatcher.History()) == 1 },
		2*time.Second, 5*time.Millisecond)

	rec := doRequest(t, router, "/api/alerts")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Count  int            `json:"count"`
		Alerts []domain.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, 1, payload.Count)
	assert.Equal(t, "cleaner:quality-degradation", payload.Alerts[0].DedupKey)
}

func TestHealthz(t *testing.T) {
	router, _, _ := testRouter(t)

	rec := doRequest(t, router, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.InDelta(t, 2, payload["mart_entries"], 1e-9)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, _ := testRouter(t)

	rec := doRequest(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "martpipe_")
}
