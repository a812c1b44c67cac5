package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whalepulse/internal/advisor"
	"whalepulse/internal/anomaly"
	"whalepulse/internal/bot"
	"whalepulse/internal/cache"
	"whalepulse/internal/config"
	"whalepulse/internal/db"
	"whalepulse/internal/handler"
	"whalepulse/internal/job"
	"whalepulse/internal/metrics"
	"whalepulse/internal/ml/ensemble"
	"whalepulse/internal/ml/features"
	"whalepulse/internal/ml/inference"
	"whalepulse/internal/ml/predictions"
	"whalepulse/internal/ml/registry"
	"whalepulse/internal/ml/training"
	"whalepulse/internal/provider"
	"whalepulse/internal/repository"
	"whalepulse/internal/service"
	"whalepulse/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "whalepulse/docs"
)

type migrator interface {
	RunMigrations(ctx context.Context) error
}

var (
	loadEnvFunc              = godotenv.Load
	loadConfigFunc           = config.Load
	initPostgresFunc         = db.InitPostgres
	initRedisFunc            = cache.InitRedis
	initTracerFunc           = tracing.InitTracer
	newCoinGeckoProviderFunc = func(tracer trace.Tracer) service.PriceProvider {
		return provider.NewCoinGeckoProvider(tracer)
	}
	newWhaleFeedProviderFunc = func(tracer trace.Tracer, baseURL, apiKey string, minUSD float64) service.WhaleFeed {
		return provider.NewWhaleFeedProvider(tracer, baseURL, apiKey, minUSD)
	}
	newBotFunc             = bot.New
	startJobFunc           = func(start func(context.Context), ctx context.Context) { go start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           WhalePulse API
// @version         1.0
// @description     Whale order-flow analytics: computed market metrics, whale events and ML direction calls.

// @host      localhost:8080
// @BasePath  /
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

	// Create repositories and run migrations
	snapshotRepo := repository.NewSnapshotRepository(db.Pool, tracer)
	eventRepo := repository.NewWhaleEventRepository(db.Pool, tracer)
	priceRepo := repository.NewPriceRepository(db.Pool, tracer)
	alertRepo := repository.NewAlertRepository(db.Pool, tracer)
	convRepo := repository.NewConversationRepository(db.Pool, tracer)
	featureRepo := features.NewRepository(db.Pool, tracer)
	registryRepo := registry.NewRepository(db.Pool, tracer)
	predictionRepo := predictions.NewRepository(db.Pool, tracer)

	if db.Pool != nil {
		migrators := []migrator{
			eventRepo, priceRepo, snapshotRepo, alertRepo, convRepo,
			featureRepo, registryRepo, predictionRepo,
		}
		for _, m := range migrators {
			if err := m.RunMigrations(ctx); err != nil {
				log.Fatalf("failed to run migrations: %v", err)
			}
		}
	}

	// Create providers and the feed service
	cgProvider := newCoinGeckoProviderFunc(tracer)
	var whaleFeed service.WhaleFeed
	if cfg.WhaleFeedURL != "" {
		whaleFeed = newWhaleFeedProviderFunc(tracer, cfg.WhaleFeedURL, cfg.WhaleFeedAPIKey, cfg.MinWhaleUSD)
	}
	feedService := service.NewFeedService(tracer, cgProvider, whaleFeed, priceRepo, eventRepo, cache.Client,
		time.Duration(cfg.WhaleFeedPollSecs)*time.Second*6)

	// Metrics cycle: engine + anomaly scoring + alert derivation
	detector := anomaly.NewDetector(0, 0)
	engine := metrics.NewEngine(metrics.DefaultConfig())
	metricsService := service.NewMetricsService(tracer, engine, snapshotRepo, eventRepo, priceRepo, alertRepo,
		detector, nil, service.CycleConfig{AlertsEnabled: true})
	metricsService.AddRenderer(metrics.LogRenderer{})

	// Advisor (optional)
	var advisorSvc *advisor.AdvisorService
	if cfg.OpenAIAPIKey != "" {
		llmClient := advisor.NewOpenAIClient(cfg.OpenAIAPIKey)
		advisorSvc = advisor.NewAdvisorService(tracer, llmClient, feedService, metricsService,
			alertRepo, convRepo, cfg.OpenAIModel, cfg.AdvisorMaxHistory)
		log.Println("Advisor service enabled")
	}

	// Telegram bot doubles as the alert push sink
	var botAsker bot.Asker
	if advisorSvc != nil {
		botAsker = advisorSvc
	}
	tgBot, err := newBotFunc(cfg.TelegramBotToken, cfg.TelegramChatID, metricsService, feedService, feedService, botAsker)
	if err != nil {
		log.Fatalf("failed to start Telegram bot: %v", err)
	}
	if tgBot != nil {
		metricsService.SetNotifier(tgBot)
		tgBot.Start()
	}

	// ML signal pipeline (optional)
	var mlService *service.MLSignalService
	if cfg.MLEnabled {
		trainingSvc := training.NewService(tracer, featureRepo, registryRepo, training.Config{
			Interval:        cfg.MLInterval,
			TrainWindowDays: cfg.MLTrainWindowDays,
			MinTrainSamples: cfg.MLMinTrainSamples,
		})
		inferenceSvc := inference.NewService(tracer, featureRepo, registryRepo, predictionRepo, alertRepo,
			ensemble.NewService(), inference.Config{
				Interval:       cfg.MLInterval,
				TargetBuckets:  cfg.MLTargetHours,
				LongThreshold:  cfg.MLLongThreshold,
				ShortThreshold: cfg.MLShortThreshold,
			})
		mlService = service.NewMLSignalService(tracer, snapshotRepo, priceRepo, features.NewEngine(nil),
			featureRepo, trainingSvc, inferenceSvc, predictionRepo, service.MLConfig{
				Interval:      cfg.MLInterval,
				TargetBuckets: cfg.MLTargetHours,
			})
		log.Println("ML signal pipeline enabled")
	}

	// Background jobs (stopped by ctx cancel)
	feedPoller := job.NewFeedPoller(tracer, feedService, cfg.CoinGeckoPollSecs, cfg.WhaleFeedPollSecs)
	startJobFunc(feedPoller.Start, ctx)

	metricsJob := job.NewMetricsJob(tracer, metricsService, time.Duration(cfg.MetricsPollSecs)*time.Second)
	startJobFunc(metricsJob.Start, ctx)

	if mlService != nil {
		inferJob := job.NewMLFeatureInferenceJob(tracer, mlService, time.Duration(cfg.MLInferPollSecs)*time.Second)
		startJobFunc(inferJob.Start, ctx)

		resolveJob := job.NewMLOutcomeResolverJob(tracer, mlService, time.Duration(cfg.MLResolvePollSecs)*time.Second)
		startJobFunc(resolveJob.Start, ctx)

		trainJob := job.NewMLTrainingJob(tracer, mlService, cfg.MLTrainHourUTC)
		startJobFunc(trainJob.Start, ctx)
	}

	// Create handlers and routes
	h := handler.New(tracer, feedService, feedService, metricsService, alertRepo, cfg.APIKey)
	h.SetMetricsCycleRunner(metricsService)
	if mlService != nil {
		h.SetMLTrainingRunner(mlService)
		h.SetPredictionReader(mlService)
	}
	if advisorSvc != nil {
		h.SetAdvisor(advisorSvc)
	}

	r := newRouterFunc()
	r.Use(otelgin.Middleware("whalepulse"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
