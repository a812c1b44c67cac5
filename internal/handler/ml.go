package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"whalepulse/internal/domain"
	"whalepulse/internal/ml/training"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type MLTrainingRunner interface {
	TrainNow(ctx context.Context, now time.Time) ([]training.ModelTrainResult, error)
}

type PredictionReader interface {
	Predictions(ctx context.Context, symbol, modelKey string, limit int) ([]domain.MLPrediction, error)
}

// TriggerMLTraining godoc
// @Summary      Trigger ML model training manually
// @Description  Refreshes feature rows and runs an immediate training cycle
// @Tags         ml
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/ml/train [post]
func (h *Handler) TriggerMLTraining(c *gin.Context) {
	if h.mlTrainer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ml training service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.trigger-ml-training")
	defer span.End()

	results, err := h.mlTrainer.TrainNow(ctx, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"trained": len(results),
		"results": results,
	})
}

// GetPredictions godoc
// @Summary      Get recent ML predictions for an asset
// @Description  Returns stored model predictions newest first, including resolved outcomes
// @Tags         ml
// @Produce      json
// @Param        symbol  path   string  true   "Asset symbol (e.g., BTC, ETH)"
// @Param        model   query  string  false  "Filter by model key (logreg_next, xgboost_next, ensemble_next)"
// @Param        limit   query  int     false  "Number of predictions (default 20, max 100)"  default(20)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/ml/predictions/{symbol} [get]
func (h *Handler) GetPredictions(c *gin.Context) {
	if h.predictions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ml predictions unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-predictions")
	defer span.End()

	symbol, ok := symbolParam(c)
	span.SetAttributes(attribute.String("symbol", symbol))
	if !ok {
		return
	}
	modelKey := strings.TrimSpace(c.Query("model"))
	limit := limitQuery(c, 20, 100)

	predictions, err := h.predictions.Predictions(ctx, symbol, modelKey, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":      symbol,
		"count":       len(predictions),
		"predictions": predictions,
	})
}
