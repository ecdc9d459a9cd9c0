package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/segyhp/vault-engine/internal/ledger"
	"github.com/segyhp/vault-engine/pkg/response"
)

// probeAccount is only used to ask the ledger for a balance.
const probeAccount = "0x0000000000000000000000000000000000000000"

// HealthHandler checks the backends that are configured. db and redis are
// nil when the selected store driver does not use them.
type HealthHandler struct {
	db      *sqlx.DB
	redis   redis.UniversalClient
	ledger  ledger.Ledger
	timeout time.Duration
}

func NewHealthHandler(db *sqlx.DB, redis redis.UniversalClient, l ledger.Ledger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{
		db:      db,
		redis:   redis,
		ledger:  l,
		timeout: timeout,
	}
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health performs a basic health check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	response.Success(w, status)
}

// Ready performs readiness check including store and ledger connectivity
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	if h.db != nil {
		h.check(r.Context(), &status, "database", h.db.PingContext)
	}
	if h.redis != nil {
		h.check(r.Context(), &status, "redis", func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		})
	}
	if h.ledger != nil {
		h.check(r.Context(), &status, "ledger", func(ctx context.Context) error {
			_, err := h.ledger.BalanceOf(ctx, probeAccount)
			return err
		})
	}

	if status.Status == "error" {
		response.JSON(w, http.StatusServiceUnavailable, status)
		return
	}

	response.Success(w, status)
}

func (h *HealthHandler) check(parent context.Context, status *HealthStatus, name string, ping func(context.Context) error) {
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	if err := ping(ctx); err != nil {
		status.Status = "error"
		status.Checks[name] = "failed: " + err.Error()
		return
	}
	status.Checks[name] = "ok"
}
