package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"whalepulse/internal/advisor"
	"whalepulse/internal/cache"
	"whalepulse/internal/config"
	"whalepulse/internal/db"
	"whalepulse/internal/domain"
	"whalepulse/internal/ml/predictions"
	"whalepulse/internal/provider"
	"whalepulse/internal/repository"
	"whalepulse/internal/service"
	"whalepulse/internal/tui"
	"whalepulse/pkg/tracing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	gossh "golang.org/x/crypto/ssh"
)

// ctxKey is a typed context key to avoid collisions.
type ctxKey string

const sshUserKey ctxKey = "ssh_user"

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	initRedisFunc    = cache.InitRedis
	initTracerFunc   = tracing.InitTracer

	newSnapshotRepoFunc     = repository.NewSnapshotRepository
	newWhaleEventRepoFunc   = repository.NewWhaleEventRepository
	newPriceRepoFunc        = repository.NewPriceRepository
	newAlertRepoFunc        = repository.NewAlertRepository
	newSSHUserRepoFunc      = repository.NewSSHUserRepository
	newConversationRepoFunc = repository.NewConversationRepository
	newPredictionRepoFunc   = predictions.NewRepository

	newCoinGeckoProviderFunc = func(tracer trace.Tracer) service.PriceProvider {
		return provider.NewCoinGeckoProvider(tracer)
	}
	newFeedServiceFunc    = service.NewFeedService
	newMetricsServiceFunc = service.NewMetricsService
	newOpenAIClientFunc   = advisor.NewOpenAIClient
	newAdvisorServiceFunc = advisor.NewAdvisorService
	newWishServerFunc     = wish.NewServer
	setupSignalNotify     = ossignal.Notify
	waitForSignalFunc     = func(quit <-chan os.Signal) { <-quit }
)

// dashboardDeps is everything a new SSH session needs to build its TUI.
type dashboardDeps struct {
	feed        *service.FeedService
	metrics     *service.MetricsService
	predictions *predictions.Repository
	advisor     *advisor.AdvisorService
}

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

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
	alertRepo := newAlertRepoFunc(db.Pool, tracer)
	sshUserRepo := newSSHUserRepoFunc(db.Pool, tracer)
	convRepo := newConversationRepoFunc(db.Pool, tracer)
	predictionRepo := newPredictionRepoFunc(db.Pool, tracer)

	// Read-path services only; the polling jobs live in cmd/server.
	cgProvider := newCoinGeckoProviderFunc(tracer)
	feedService := newFeedServiceFunc(tracer, cgProvider, nil, priceRepo, eventRepo, cache.Client, 0)
	metricsService := newMetricsServiceFunc(tracer, nil, snapshotRepo, eventRepo, priceRepo, alertRepo, nil, nil, service.CycleConfig{})

	deps := dashboardDeps{
		feed:        feedService,
		metrics:     metricsService,
		predictions: predictionRepo,
	}
	if cfg.OpenAIAPIKey != "" {
		llmClient := newOpenAIClientFunc(cfg.OpenAIAPIKey)
		deps.advisor = newAdvisorServiceFunc(tracer, llmClient, feedService, metricsService,
			alertRepo, convRepo, cfg.OpenAIModel, cfg.AdvisorMaxHistory)
		log.Println("SSH advisor service enabled")
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.SSHPort)
	srv, err := newWishServerFunc(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(cfg.SSHHostKeyPath),
		wish.WithPublicKeyAuth(fingerprintAuth(sshUserRepo)),
		wish.WithMiddleware(
			bubbletea.Middleware(dashboardHandler(deps)),
			logging.Middleware(),
		),
	)
	if err != nil {
		log.Fatalf("failed to create SSH server: %v", err)
	}

	if srv != nil {
		go func() {
			log.Printf("SSH server listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil {
				log.Printf("SSH server stopped: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down SSH server...")

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("SSH server shutdown error: %v", err)
		}
	}

	log.Println("SSH server exited")
}

// fingerprintAuth admits only keys whose SHA256 fingerprint is registered.
// The matched user rides on the session context for the TUI handler.
func fingerprintAuth(users *repository.SSHUserRepository) func(ssh.Context, ssh.PublicKey) bool {
	return func(ctx ssh.Context, key ssh.PublicKey) bool {
		fingerprint := gossh.FingerprintSHA256(key)
		user, err := users.FindByFingerprint(context.Background(), fingerprint)
		if err != nil || user == nil {
			log.Printf("SSH auth denied: fingerprint=%s err=%v", fingerprint, err)
			return false
		}
		ctx.SetValue(sshUserKey, user)
		_ = users.UpdateLastLogin(context.Background(), user.ID)
		log.Printf("SSH auth accepted: user=%s fingerprint=%s", user.Username, fingerprint)
		return true
	}
}

// dashboardHandler builds one TUI model per SSH session, sized to the
// session's pty.
func dashboardHandler(deps dashboardDeps) func(ssh.Session) (tea.Model, []tea.ProgramOption) {
	return func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
		user, _ := s.Context().Value(sshUserKey).(*repository.SSHUser)

		username := "unknown"
		var userID int64
		if user != nil {
			username = user.Username
			userID = user.ID
		}

		var advisorQ tui.AdvisorQuerier
		if deps.advisor != nil {
			advisorQ = deps.advisor
		}

		model := tui.NewAppModel(tui.Services{
			Prices:      deps.feed,
			Metrics:     deps.metrics,
			Whales:      deps.feed,
			Predictions: predictionRepoQuerier{deps.predictions},
			Advisor:     advisorQ,
			UserID:      userID,
			Username:    username,
		})
		pty, _, _ := s.Pty()
		model.SetSize(pty.Window.Width, pty.Window.Height)

		return model, []tea.ProgramOption{tea.WithAltScreen()}
	}
}

// predictionRepoQuerier adapts the prediction repository's ListRecent to the
// dashboard's Predictions interface.
type predictionRepoQuerier struct {
	repo *predictions.Repository
}

func (q predictionRepoQuerier) Predictions(ctx context.Context, symbol, modelKey string, limit int) ([]domain.MLPrediction, error) {
	return q.repo.ListRecent(ctx, symbol, modelKey, limit)
}
