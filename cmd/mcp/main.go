package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"whalepulse/internal/cache"
	"whalepulse/internal/config"
	"whalepulse/internal/db"
	"whalepulse/internal/domain"
	"whalepulse/internal/ml/predictions"
	"whalepulse/internal/repository"
	"whalepulse/internal/service"
	"whalepulse/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	initRedisFunc    = cache.InitRedis
	initTracerFunc   = tracing.InitTracer

	newSnapshotRepoFunc   = repository.NewSnapshotRepository
	newWhaleEventRepoFunc = repository.NewWhaleEventRepository
	newPriceRepoFunc      = repository.NewPriceRepository
	newPredictionRepoFunc = predictions.NewRepository
	newMetricsServiceFunc = service.NewMetricsService

	runServerFunc = func(ctx context.Context, server *mcp.Server) error {
		return server.Run(ctx, &mcp.StdioTransport{})
	}
)

// metricsReader is the snapshot read path the metrics tool needs.
type metricsReader interface {
	LatestMetrics(ctx context.Context, symbol, interval string) (*domain.MetricSnapshot, map[string]domain.MetricResult, error)
}

// whaleReader is the event read path the whale tool needs.
type whaleReader interface {
	ListRecent(ctx context.Context, symbol string, limit int) ([]domain.AnnotatedWhaleEvent, error)
}

// predictionReader is the prediction read path the prediction tool needs.
type predictionReader interface {
	ListRecent(ctx context.Context, symbol, modelKey string, limit int) ([]domain.MLPrediction, error)
}

type metricsInput struct {
	Symbol   string `json:"symbol" jsonschema:"asset symbol, e.g. BTC or ETH"`
	Interval string `json:"interval,omitempty" jsonschema:"analysis window: 15m, 1h or 4h (default 1h)"`
}

type metricsOutput struct {
	Symbol     string                         `json:"symbol"`
	Interval   string                         `json:"interval"`
	BucketTime time.Time                      `json:"bucket_time"`
	WhaleCount int                            `json:"whale_count"`
	Metrics    map[string]domain.MetricResult `json:"metrics"`
}

type whaleEventsInput struct {
	Symbol string `json:"symbol" jsonschema:"asset symbol, e.g. BTC or ETH"`
	Limit  int    `json:"limit,omitempty" jsonschema:"number of events to return (default 20, max 100)"`
}

type whaleEventsOutput struct {
	Symbol string                       `json:"symbol"`
	Count  int                          `json:"count"`
	Events []domain.AnnotatedWhaleEvent `json:"events"`
}

type predictionInput struct {
	Symbol string `json:"symbol" jsonschema:"asset symbol, e.g. BTC or ETH"`
	Model  string `json:"model,omitempty" jsonschema:"model key filter: logreg_next, xgboost_next or ensemble_next"`
}

type predictionOutput struct {
	Symbol      string                `json:"symbol"`
	Count       int                   `json:"count"`
	Predictions []domain.MLPrediction `json:"predictions"`
}

func normalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		return "", fmt.Errorf("unsupported symbol %q (supported: %s)",
			raw, strings.Join(domain.SupportedSymbols, ", "))
	}
	return symbol, nil
}

func normalizeInterval(raw string) (string, error) {
	interval := strings.TrimSpace(raw)
	if interval == "" {
		return "1h", nil
	}
	for _, si := range domain.SupportedIntervals {
		if interval == si {
			return interval, nil
		}
	}
	return "", fmt.Errorf("unsupported interval %q (supported: %s)",
		raw, strings.Join(domain.SupportedIntervals, ", "))
}

func getMarketMetricsHandler(metrics metricsReader, timeout time.Duration) mcp.ToolHandlerFor[metricsInput, metricsOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in metricsInput) (*mcp.CallToolResult, metricsOutput, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		symbol, err := normalizeSymbol(in.Symbol)
		if err != nil {
			return nil, metricsOutput{}, err
		}
		interval, err := normalizeInterval(in.Interval)
		if err != nil {
			return nil, metricsOutput{}, err
		}

		snap, results, err := metrics.LatestMetrics(ctx, symbol, interval)
		if err != nil {
			return nil, metricsOutput{}, fmt.Errorf("load metrics for %s: %w", symbol, err)
		}
		if snap == nil {
			return nil, metricsOutput{}, fmt.Errorf("no metrics computed yet for %s %s", symbol, interval)
		}

		return nil, metricsOutput{
			Symbol:     symbol,
			Interval:   interval,
			BucketTime: snap.BucketTime,
			WhaleCount: snap.WhaleCount,
			Metrics:    results,
		}, nil
	}
}

func listWhaleEventsHandler(events whaleReader, timeout time.Duration) mcp.ToolHandlerFor[whaleEventsInput, whaleEventsOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in whaleEventsInput) (*mcp.CallToolResult, whaleEventsOutput, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		symbol, err := normalizeSymbol(in.Symbol)
		if err != nil {
			return nil, whaleEventsOutput{}, err
		}

		limit := in.Limit
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		list, err := events.ListRecent(ctx, symbol, limit)
		if err != nil {
			return nil, whaleEventsOutput{}, fmt.Errorf("load whale events for %s: %w", symbol, err)
		}

		return nil, whaleEventsOutput{Symbol: symbol, Count: len(list), Events: list}, nil
	}
}

func getPredictionHandler(preds predictionReader, timeout time.Duration) mcp.ToolHandlerFor[predictionInput, predictionOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in predictionInput) (*mcp.CallToolResult, predictionOutput, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		symbol, err := normalizeSymbol(in.Symbol)
		if err != nil {
			return nil, predictionOutput{}, err
		}

		list, err := preds.ListRecent(ctx, symbol, strings.TrimSpace(in.Model), 5)
		if err != nil {
			return nil, predictionOutput{}, fmt.Errorf("load predictions for %s: %w", symbol, err)
		}

		return nil, predictionOutput{Symbol: symbol, Count: len(list), Predictions: list}, nil
	}
}

func buildServer(metrics metricsReader, events whaleReader, preds predictionReader, timeout time.Duration) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "whalepulse",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_market_metrics",
		Description: "Latest computed whale-market metrics (price change, sentiment, whale pressure, liquidity delta, volatility, coordination) for one asset and interval",
	}, getMarketMetricsHandler(metrics, timeout))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_whale_events",
		Description: "Recent large on-chain whale transactions for one asset, including anomaly flags",
	}, listWhaleEventsHandler(events, timeout))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_prediction",
		Description: "Latest ML direction predictions for one asset, optionally filtered by model key",
	}, getPredictionHandler(preds, timeout))

	return server
}

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	snapshotRepo := newSnapshotRepoFunc(db.Pool, tracer)
	eventRepo := newWhaleEventRepoFunc(db.Pool, tracer)
	priceRepo := newPriceRepoFunc(db.Pool, tracer)
	predictionRepo := newPredictionRepoFunc(db.Pool, tracer)

	metricsService := newMetricsServiceFunc(tracer, nil, snapshotRepo, eventRepo, priceRepo, nil, nil, nil, service.CycleConfig{})

	timeout := time.Duration(cfg.MCPRequestTimeoutSecs) * time.Second
	server := buildServer(metricsService, eventRepo, predictionRepo, timeout)

	log.Printf("MCP server starting on stdio (request timeout %s)", timeout)
	if err := runServerFunc(ctx, server); err != nil {
		log.Fatalf("MCP server stopped: %v", err)
	}
	log.Println("MCP server exited")
}
