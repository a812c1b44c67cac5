package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whalepulse/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

func TestGetMetricsUnsupportedSymbol(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")
	h := &Handler{tracer: tracer, metrics: metricsReaderStub{}}

	router := gin.New()
	router.GET("/api/metrics/:symbol", h.GetMetrics)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/NOPE", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetMetricsNotComputedYet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")
	h := &Handler{tracer: tracer, metrics: metricsReaderStub{}}

	router := gin.New()
	router.GET("/api/metrics/:symbol", h.GetMetrics)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/BTC", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetMetricsSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")

	snap := &domain.MetricSnapshot{
		Symbol:     "BTC",
		Interval:   "1h",
		BucketTime: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		WhaleCount: 7,
	}
	results := map[string]domain.MetricResult{
		domain.MetricSentiment: {Value: 64, Label: "Bullish", Sentiment: domain.SentimentPositive},
	}
	h := &Handler{tracer: tracer, metrics: metricsReaderStub{snap: snap, results: results}}

	router := gin.New()
	router.GET("/api/metrics/:symbol", h.GetMetrics)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/BTC?interval=1h", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Symbol     string                         `json:"symbol"`
		Interval   string                         `json:"interval"`
		WhaleCount int                            `json:"whale_count"`
		Metrics    map[string]domain.MetricResult `json:"metrics"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Symbol != "BTC" || body.WhaleCount != 7 {
		t.Fatalf("unexpected response payload: %+v", body)
	}
	if got := body.Metrics[domain.MetricSentiment]; got.Label != "Bullish" {
		t.Fatalf("expected sentiment metric in payload, got %+v", body.Metrics)
	}
}

func TestGetMetricsHistoryBadInterval(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")
	h := &Handler{tracer: tracer, metrics: metricsReaderStub{}}

	router := gin.New()
	router.GET("/api/metrics/:symbol/history", h.GetMetricsHistory)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/BTC/history?interval=7m", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetMetricsHistorySuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")
	h := &Handler{tracer: tracer, metrics: metricsReaderStub{
		history: []domain.MetricSnapshot{{Symbol: "ETH", Interval: "1h"}, {Symbol: "ETH", Interval: "1h"}},
	}}

	router := gin.New()
	router.GET("/api/metrics/:symbol/history", h.GetMetricsHistory)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/ETH/history?limit=2", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Snapshots []domain.MetricSnapshot `json:"snapshots"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(body.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(body.Snapshots))
	}
}

func TestTriggerMetricsRunServiceUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")
	h := &Handler{tracer: tracer}

	router := gin.New()
	router.POST("/api/metrics/run", h.TriggerMetricsRun)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/metrics/run", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestTriggerMetricsRunSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")
	h := &Handler{tracer: tracer}
	h.SetMetricsCycleRunner(cycleRunnerStub{result: domain.MetricsRunResult{
		SnapshotsWritten: 30,
		AlertsWritten:    4,
		EventsScored:     120,
		Errors:           []string{"one warning"},
	}})

	router := gin.New()
	router.POST("/api/metrics/run", h.TriggerMetricsRun)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/metrics/run", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Status           string   `json:"status"`
		SnapshotsWritten int      `json:"snapshots_written"`
		AlertsWritten    int      `json:"alerts_written"`
		EventsScored     int      `json:"events_scored"`
		Errors           []string `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Status != "ok" || body.SnapshotsWritten != 30 || body.AlertsWritten != 4 {
		t.Fatalf("unexpected response payload: %+v", body)
	}
}

func TestTriggerMetricsRunFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")
	h := &Handler{tracer: tracer}
	h.SetMetricsCycleRunner(cycleRunnerStub{err: errors.New("cycle failed")})

	router := gin.New()
	router.POST("/api/metrics/run", h.TriggerMetricsRun)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/metrics/run", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

type metricsReaderStub struct {
	snap    *domain.MetricSnapshot
	results map[string]domain.MetricResult
	history []domain.MetricSnapshot
	err     error
}

func (s metricsReaderStub) LatestMetrics(ctx context.Context, symbol, interval string) (*domain.MetricSnapshot, map[string]domain.MetricResult, error) {
	return s.snap, s.results, s.err
}

func (s metricsReaderStub) History(ctx context.Context, symbol, interval string, limit int) ([]domain.MetricSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.history) {
		return s.history[:limit], nil
	}
	return s.history, nil
}

type cycleRunnerStub struct {
	result domain.MetricsRunResult
	err    error
}

func (s cycleRunnerStub) RunCycle(ctx context.Context, now time.Time) (domain.MetricsRunResult, error) {
	if s.err != nil {
		return domain.MetricsRunResult{}, s.err
	}
	return s.result, nil
}
