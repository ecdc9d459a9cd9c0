// Package app builds the backends and services shared by the server and
// scheduler binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/config"
	"github.com/segyhp/vault-engine/internal/ledger"
	"github.com/segyhp/vault-engine/internal/repository"
	"github.com/segyhp/vault-engine/internal/service"
	"github.com/segyhp/vault-engine/internal/store"
	"github.com/segyhp/vault-engine/internal/store/memory"
	"github.com/segyhp/vault-engine/internal/store/postgres"
	"github.com/segyhp/vault-engine/internal/store/redisstore"
)

// App holds the wired services. DB and Redis are nil when the configuration
// does not use them.
type App struct {
	DB     *sqlx.DB
	Redis  *redis.Client
	Store  store.DocumentStore
	Ledger ledger.Ledger

	Activity *service.ActivityBus
	Loans    *service.LoanService
	Engine   *service.ScheduleEngine
	Nominees *service.InactivityClaimGate
	Vault    *service.VaultService
	Watcher  *service.LoanWatcher
}

// New connects the configured store and ledger and builds the services on
// top of them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{}

	if cfg.RedisEnabled() {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	switch cfg.Store.Driver {
	case "postgres":
		db, err := initDB(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DB = db
		a.Store = postgres.New(db, cfg.Database.URL, logger.Named("store"))
	case "redis":
		if a.Redis == nil {
			return nil, fmt.Errorf("redis store selected but REDIS_HOST is empty")
		}
		a.Store = redisstore.NewRedisStoreAdapter(a.Redis, logger.Named("store"))
	default:
		a.Store = memory.New()
	}

	var signer ledger.Signer
	switch cfg.Ledger.Driver {
	case "rpc":
		client, err := ledger.NewRPCClient(cfg.Ledger.RPCURL, cfg.Ledger.Timeout)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ledger client: %w", err)
		}
		a.Ledger = client
		signer = client
	default:
		a.Ledger = ledger.NewMemory()
	}

	executor := service.NewDisbursementExecutor(a.Ledger, cfg.Scheduler.TransferDelay, logger.Named("executor"))
	a.Activity = service.NewActivityBus()

	loanRepo := repository.NewLoanRepository(a.Store)
	a.Loans = service.NewLoanService(
		repository.NewOfferRepository(a.Store),
		repository.NewLoanRequestRepository(a.Store),
		loanRepo,
		a.Ledger, executor, a.Activity, cfg.Business, logger.Named("loans"))
	a.Engine = service.NewScheduleEngine(
		repository.NewScheduleRepository(a.Store),
		a.Ledger, executor, signer, a.Activity, cfg.Scheduler.CatchUp, logger.Named("schedules"))
	a.Nominees = service.NewInactivityClaimGate(
		repository.NewNomineeRepository(a.Store),
		a.Ledger, executor, cfg.Business, logger.Named("nominees"))
	a.Nominees.Listen(a.Activity)
	a.Vault = service.NewVaultService(a.Ledger, executor, a.Activity, logger.Named("vault"))
	a.Watcher = service.NewLoanWatcher(loanRepo, logger.Named("watcher"))

	return a, nil
}

// Close releases the database and redis connections.
func (a *App) Close() {
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

func initDB(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
