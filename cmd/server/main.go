package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/app"
	"github.com/segyhp/vault-engine/internal/config"
	"github.com/segyhp/vault-engine/internal/handler"
	"github.com/segyhp/vault-engine/internal/observability"
	"github.com/segyhp/vault-engine/pkg/response"
)

func main() {
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize backends", zap.Error(err))
	}
	defer a.Close()

	if cfg.IsProduction() && (cfg.Store.Driver == "memory" || cfg.Ledger.Driver == "memory") {
		logger.Warn("running in production with in-memory drivers, state is lost on restart",
			zap.String("store", cfg.Store.Driver),
			zap.String("ledger", cfg.Ledger.Driver))
	}

	stopWatcher, err := a.Watcher.Start(ctx)
	if err != nil {
		logger.Warn("loan watcher not started", zap.Error(err))
	} else {
		defer stopWatcher()
	}

	v := handler.NewValidator()
	router := handler.NewRouter(handler.Handlers{
		Health:    handler.NewHealthHandler(a.DB, redisClient(a), a.Ledger, cfg.Health.Timeout),
		Loans:     handler.NewLoanHandler(a.Loans, v),
		Schedules: handler.NewScheduleHandler(a.Engine, v),
		Nominees:  handler.NewNomineeHandler(a.Nominees, v),
		Vault:     handler.NewVaultHandler(a.Vault, v),
	}, logger)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      response.CORSMiddleware(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("ledger", cfg.Ledger.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// redisClient keeps a nil *redis.Client from becoming a non-nil interface.
func redisClient(a *app.App) redis.UniversalClient {
	if a.Redis == nil {
		return nil
	}
	return a.Redis
}
