package main

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"whalepulse/internal/bot"
	"whalepulse/internal/config"
	"whalepulse/internal/domain"
	"whalepulse/internal/service"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestMainBootstrap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restore := stubServerDeps()
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
}

func TestMainBootstrapWithMLAndWhaleFeed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restore := stubServerDeps()
	defer restore()

	loadConfigFunc = func() *config.Config {
		return &config.Config{
			CoinGeckoPollSecs: 1,
			MetricsPollSecs:   1,
			WhaleFeedURL:      "https://feed.example",
			WhaleFeedPollSecs: 1,
			MLEnabled:         true,
			MLInferPollSecs:   1,
			MLResolvePollSecs: 1,
		}
	}

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
}

func stubServerDeps() func() {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origInitPostgres := initPostgresFunc
	origInitRedis := initRedisFunc
	origInitTracer := initTracerFunc
	origNewProvider := newCoinGeckoProviderFunc
	origNewWhaleFeed := newWhaleFeedProviderFunc
	origNewBot := newBotFunc
	origStartJob := startJobFunc
	origNewRouter := newRouterFunc
	origSetupSignal := setupSignalNotify
	origWait := waitForSignalFunc
	origStartHTTP := startHTTPServerFunc
	origShutdownHTTP := shutdownHTTPServerFunc

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config {
		return &config.Config{RedisURL: "", DatabaseURL: "", CoinGeckoPollSecs: 1, MetricsPollSecs: 1}
	}
	initPostgresFunc = func(context.Context) {}
	initRedisFunc = func(context.Context) {}
	initTracerFunc = func(ctx context.Context) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	newCoinGeckoProviderFunc = func(trace.Tracer) service.PriceProvider { return stubPriceProvider{} }
	newWhaleFeedProviderFunc = func(trace.Tracer, string, string, float64) service.WhaleFeed { return stubWhaleFeed{} }
	newBotFunc = func(string, int64, bot.MetricsQuerier, bot.WhaleQuerier, bot.PriceQuerier, bot.Asker) (*bot.Bot, error) {
		return nil, nil
	}
	startJobFunc = func(func(context.Context), context.Context) {}
	newRouterFunc = func(...gin.OptionFunc) *gin.Engine { return gin.New() }
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(<-chan os.Signal) {}
	startHTTPServerFunc = func(*http.Server) error { return http.ErrServerClosed }
	shutdownHTTPServerFunc = func(*http.Server, context.Context) error { return nil }

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		initPostgresFunc = origInitPostgres
		initRedisFunc = origInitRedis
		initTracerFunc = origInitTracer
		newCoinGeckoProviderFunc = origNewProvider
		newWhaleFeedProviderFunc = origNewWhaleFeed
		newBotFunc = origNewBot
		startJobFunc = origStartJob
		newRouterFunc = origNewRouter
		setupSignalNotify = origSetupSignal
		waitForSignalFunc = origWait
		startHTTPServerFunc = origStartHTTP
		shutdownHTTPServerFunc = origShutdownHTTP
	}
}

type stubPriceProvider struct{}

func (stubPriceProvider) FetchPrices(ctx context.Context) (map[string]*domain.PriceSnapshot, error) {
	return map[string]*domain.PriceSnapshot{
		"BTC": {Symbol: "BTC", PriceUSD: 1},
	}, nil
}

func (stubPriceProvider) FetchPriceSeries(ctx context.Context, symbol string, days int, interval string) ([]domain.PricePoint, error) {
	return []domain.PricePoint{}, nil
}

type stubWhaleFeed struct{}

func (stubWhaleFeed) FetchEvents(ctx context.Context, symbol string, since time.Time) ([]domain.WhaleEvent, error) {
	return nil, nil
}
