package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/app"
	"github.com/segyhp/vault-engine/internal/config"
	"github.com/segyhp/vault-engine/internal/lock"
	"github.com/segyhp/vault-engine/internal/observability"
)

const (
	tickLockKey = "vault-engine:scheduler:tick"
	// Loan due reminders run every morning.
	dueNoticeSpec = "0 0 9 * * *"
)

func main() {
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
	logger = logger.Named("scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize backends", zap.Error(err))
	}
	defer a.Close()

	if cfg.Store.Driver == "memory" {
		logger.Warn("memory store is private to this process; schedules created through the server are not visible here")
	}

	var locker lock.Locker = lock.Noop{}
	if a.Redis != nil {
		locker = lock.NewRedisLocker(a.Redis)
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(cfg.Scheduler.Location()))
	setupCronJobs(ctx, c, cfg, a, locker, logger)

	c.Start()
	logger.Info("scheduler started",
		zap.String("tick", cfg.Scheduler.Cron),
		zap.String("timezone", cfg.Scheduler.Timezone),
		zap.String("catch_up", cfg.Scheduler.CatchUp))

	<-ctx.Done()

	logger.Info("shutting down scheduler")
	// Wait for a running tick to finish its batch.
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
}

func setupCronJobs(ctx context.Context, c *cron.Cron, cfg *config.Config, a *app.App, locker lock.Locker, logger *zap.Logger) {
	_, err := c.AddFunc(cfg.Scheduler.Cron, func() {
		runTick(ctx, a, locker, cfg.Scheduler.LockTTL, logger)
	})
	if err != nil {
		logger.Fatal("invalid SCHEDULER_CRON", zap.String("spec", cfg.Scheduler.Cron), zap.Error(err))
	}

	_, err = c.AddFunc(dueNoticeSpec, func() {
		sendDueNotices(ctx, a, logger)
	})
	if err != nil {
		logger.Error("error scheduling due notice job", zap.Error(err))
	}
}

func runTick(ctx context.Context, a *app.App, locker lock.Locker, ttl time.Duration, logger *zap.Logger) {
	lease, err := locker.Acquire(ctx, tickLockKey, ttl)
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Debug("tick skipped, another instance holds the lock")
		return
	}
	if err != nil {
		logger.Error("tick lock failed", zap.Error(err))
		return
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("tick lock release failed", zap.Error(err))
		}
	}()

	report, err := a.Engine.Tick(ctx, time.Now())
	if err != nil {
		logger.Error("tick failed", zap.Error(err))
		return
	}
	for _, f := range report.Failures {
		logger.Warn("schedule failed",
			zap.String("schedule_id", f.ScheduleID),
			zap.String("owner", f.Owner),
			zap.Int("failed_at", f.FailedAt),
			zap.String("error", f.Error))
	}
	logger.Info("tick finished",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("executed", report.Executed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)))
}

func sendDueNotices(ctx context.Context, a *app.App, logger *zap.Logger) {
	notices, err := a.Loans.DueNotices(ctx, "", time.Now())
	if err != nil {
		logger.Error("due notice scan failed", zap.Error(err))
		return
	}
	for _, n := range notices {
		msg := "loan due soon"
		if n.Overdue {
			msg = "loan overdue"
		}
		logger.Info(msg,
			zap.String("loan_id", n.LoanID),
			zap.String("role", n.Role),
			zap.String("counterparty", n.Counterparty),
			zap.String("remaining", n.RemainingAmount.String()),
			zap.Int("days_remaining", n.DaysRemaining))
	}
	logger.Info("due notices sent", zap.Int("count", len(notices)))
}
