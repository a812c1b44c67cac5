package handler

import (
	"context"

	"whalepulse/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// PriceReader serves the price endpoints.
type PriceReader interface {
	GetCurrentPrice(ctx context.Context, symbol string) (*domain.PriceSnapshot, error)
	GetCurrentPrices(ctx context.Context) ([]*domain.PriceSnapshot, error)
	GetSeries(ctx context.Context, symbol, interval string, limit int) ([]domain.PricePoint, error)
}

// WhaleReader serves the whale event endpoints.
type WhaleReader interface {
	RecentEvents(ctx context.Context, symbol string, limit int) ([]domain.AnnotatedWhaleEvent, error)
}

// MetricsReader serves the computed metric endpoints.
type MetricsReader interface {
	LatestMetrics(ctx context.Context, symbol, interval string) (*domain.MetricSnapshot, map[string]domain.MetricResult, error)
	History(ctx context.Context, symbol, interval string, limit int) ([]domain.MetricSnapshot, error)
}

// AlertReader serves the alert endpoints.
type AlertReader interface {
	ListRecent(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error)
}

type Handler struct {
	tracer  trace.Tracer
	prices  PriceReader
	whales  WhaleReader
	metrics MetricsReader
	alerts  AlertReader
	apiKey  string

	cycleRunner MetricsCycleRunner
	mlTrainer   MLTrainingRunner
	predictions PredictionReader
	advisor     AdvisorAsker
}

func New(tracer trace.Tracer, prices PriceReader, whales WhaleReader, metrics MetricsReader, alerts AlertReader, apiKey string) *Handler {
	return &Handler{
		tracer:  tracer,
		prices:  prices,
		whales:  whales,
		metrics: metrics,
		alerts:  alerts,
		apiKey:  apiKey,
	}
}

// SetMetricsCycleRunner enables the manual metrics trigger endpoint.
func (h *Handler) SetMetricsCycleRunner(r MetricsCycleRunner) { h.cycleRunner = r }

// SetMLTrainingRunner enables the manual ML training trigger endpoint.
func (h *Handler) SetMLTrainingRunner(r MLTrainingRunner) { h.mlTrainer = r }

// SetPredictionReader enables the ML prediction read endpoints.
func (h *Handler) SetPredictionReader(r PredictionReader) { h.predictions = r }

// SetAdvisor enables the advisor chat endpoint.
func (h *Handler) SetAdvisor(a AdvisorAsker) { h.advisor = a }

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/prices", h.GetAllPrices)
	api.GET("/prices/:symbol", h.GetPrice)
	api.GET("/series/:symbol", h.GetSeries)
	api.GET("/whales/:symbol", h.GetWhaleEvents)
	api.GET("/metrics/:symbol", h.GetMetrics)
	api.GET("/metrics/:symbol/history", h.GetMetricsHistory)
	api.GET("/alerts", h.GetAlerts)
	api.GET("/ml/predictions/:symbol", h.GetPredictions)

	protected := api.Group("", APIKeyAuth(h.apiKey))
	protected.POST("/metrics/run", h.TriggerMetricsRun)
	protected.POST("/ml/train", h.TriggerMLTraining)
	protected.POST("/advisor/ask", h.AskAdvisor)
}
