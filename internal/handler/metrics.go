package handler

import (
	"context"
	"net/http"
	"time"

	"whalepulse/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type MetricsCycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) (domain.MetricsRunResult, error)
}

// GetMetrics godoc
// @Summary      Get the latest computed whale metrics for an asset
// @Description  Returns the newest metric snapshot with labeled, sentiment-tagged values
// @Tags         metrics
// @Produce      json
// @Param        symbol    path   string  true   "Asset symbol (e.g., BTC, ETH)"
// @Param        interval  query  string  false  "Analysis window (15m, 1h, 4h)"  default(1h)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/metrics/{symbol} [get]
func (h *Handler) GetMetrics(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-metrics")
	defer span.End()

	symbol, ok := symbolParam(c)
	span.SetAttributes(attribute.String("symbol", symbol))
	if !ok {
		return
	}
	interval, ok := intervalQuery(c)
	if !ok {
		return
	}

	snap, results, err := h.metrics.LatestMetrics(ctx, symbol, interval)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no metrics computed yet for " + symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":      symbol,
		"interval":    interval,
		"bucket_time": snap.BucketTime,
		"whale_count": snap.WhaleCount,
		"metrics":     results,
	})
}

// GetMetricsHistory godoc
// @Summary      Get recent metric snapshots for an asset
// @Description  Returns stored metric snapshots newest first
// @Tags         metrics
// @Produce      json
// @Param        symbol    path   string  true   "Asset symbol (e.g., BTC, ETH)"
// @Param        interval  query  string  false  "Analysis window (15m, 1h, 4h)"  default(1h)
// @Param        limit     query  int     false  "Number of snapshots (default 48, max 500)"  default(48)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/metrics/{symbol}/history [get]
func (h *Handler) GetMetricsHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-metrics-history")
	defer span.End()

	symbol, ok := symbolParam(c)
	span.SetAttributes(attribute.String("symbol", symbol))
	if !ok {
		return
	}
	interval, ok := intervalQuery(c)
	if !ok {
		return
	}
	limit := limitQuery(c, 48, 500)

	snaps, err := h.metrics.History(ctx, symbol, interval, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"interval":  interval,
		"snapshots": snaps,
	})
}

// TriggerMetricsRun godoc
// @Summary      Trigger a metrics computation cycle manually
// @Description  Computes and persists one snapshot per symbol/interval for the last closed bucket
// @Tags         metrics
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/metrics/run [post]
func (h *Handler) TriggerMetricsRun(c *gin.Context) {
	if h.cycleRunner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-metrics-run")
	defer span.End()

	result, err := h.cycleRunner.RunCycle(ctx, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"snapshots_written": result.SnapshotsWritten,
		"alerts_written":    result.AlertsWritten,
		"events_scored":     result.EventsScored,
		"errors":            result.Errors,
	})
}
