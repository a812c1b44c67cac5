package handler

import (
	"net/http"
	"strings"

	"whalepulse/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetWhaleEvents godoc
// @Summary      Get recent whale events for an asset
// @Description  Returns stored whale events newest first, with anomaly flags
// @Tags         whales
// @Produce      json
// @Param        symbol  path   string  true   "Asset symbol (e.g., BTC, ETH)"
// @Param        limit   query  int     false  "Number of events (default 50, max 500)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/whales/{symbol} [get]
func (h *Handler) GetWhaleEvents(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-whale-events")
	defer span.End()

	symbol, ok := symbolParam(c)
	span.SetAttributes(attribute.String("symbol", symbol))
	if !ok {
		return
	}
	limit := limitQuery(c, 50, 500)

	events, err := h.whales.RecentEvents(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	anomalous := 0
	for _, ev := range events {
		if ev.Anomalous {
			anomalous++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"count":     len(events),
		"anomalous": anomalous,
		"events":    events,
	})
}

// GetAlerts godoc
// @Summary      Get recent alerts
// @Description  Returns derived threshold and ML alerts newest first
// @Tags         alerts
// @Produce      json
// @Param        symbol  query  string  false  "Filter by asset symbol"
// @Param        source  query  string  false  "Filter by alert source"
// @Param        limit   query  int     false  "Number of alerts (default 50, max 200)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Router       /api/alerts [get]
func (h *Handler) GetAlerts(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-alerts")
	defer span.End()

	filter := domain.AlertFilter{
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Source: strings.TrimSpace(c.Query("source")),
		Limit:  limitQuery(c, 50, 200),
	}

	alerts, err := h.alerts.ListRecent(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(alerts),
		"alerts": alerts,
	})
}
