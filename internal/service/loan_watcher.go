package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/repository"
)

// LoanWatcher follows the loans collection and logs lifecycle transitions.
type LoanWatcher struct {
	repo   repository.LoanRepository
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]string
}

func NewLoanWatcher(repo repository.LoanRepository, logger *zap.Logger) *LoanWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoanWatcher{repo: repo, logger: logger, seen: make(map[string]string)}
}

// Start subscribes until ctx is done or the returned func is called.
func (w *LoanWatcher) Start(ctx context.Context) (func(), error) {
	return w.repo.Watch(ctx, w.observe)
}

func (w *LoanWatcher) observe(loan *domain.Loan) {
	w.mu.Lock()
	prev, known := w.seen[loan.ID]
	w.seen[loan.ID] = loan.Status
	w.mu.Unlock()

	if known && prev == loan.Status {
		return
	}
	fields := []zap.Field{
		zap.String("loan_id", loan.ID),
		zap.String("borrower", loan.BorrowerAccount),
		zap.String("lender", loan.LenderAccount),
		zap.String("remaining", loan.RemainingAmount.String()),
	}
	switch loan.Status {
	case domain.LoanStatusActive:
		w.logger.Info("loan funded", append(fields, zap.Time("due_date", loan.DueDate))...)
	case domain.LoanStatusRepaid:
		w.logger.Info("loan repaid", fields...)
	}
}

// Transitions returns the last status seen per loan.
func (w *LoanWatcher) Transitions() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.seen))
	for k, v := range w.seen {
		out[k] = v
	}
	return out
}
