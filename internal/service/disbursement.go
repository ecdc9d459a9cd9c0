package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/ledger"
	customError "github.com/segyhp/vault-engine/pkg/errors"
)

// ProgressFunc is called after every confirmed transfer with the number of
// transfers now complete. A returned error stops the batch.
type ProgressFunc func(ctx context.Context, completed int) error

// DisbursementExecutor runs transfers out of one vault strictly in order.
// It stops at the first failure and never rolls back earlier transfers.
type DisbursementExecutor struct {
	ledger ledger.Ledger
	delay  time.Duration
	logger *zap.Logger
}

func NewDisbursementExecutor(l ledger.Ledger, delay time.Duration, logger *zap.Logger) *DisbursementExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DisbursementExecutor{ledger: l, delay: delay, logger: logger}
}

// ExecuteBatch executes transfers[start:] from the vault of from. Indices in
// the result refer to positions in transfers, so a resumed batch reports the
// same indices as the first attempt would have.
func (e *DisbursementExecutor) ExecuteBatch(ctx context.Context, from string, transfers []domain.Transfer, start int, progress ProgressFunc) domain.BatchResult {
	var res domain.BatchResult
	if start < 0 {
		start = 0
	}

	for i := start; i < len(transfers); i++ {
		if i > start && e.delay > 0 {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
				return fail(res, i, ctx.Err())
			}
		}

		t := transfers[i]
		receipt, err := e.transfer(ctx, from, t)
		if err != nil {
			e.logger.Warn("disbursement transfer failed",
				zap.String("from", from),
				zap.String("to", t.To),
				zap.String("ref", t.Ref),
				zap.Int("index", i),
				zap.Error(err))
			return fail(res, i, err)
		}

		res.Succeeded = append(res.Succeeded, i)
		res.Receipts = append(res.Receipts, *receipt)
		e.logger.Info("disbursement transfer confirmed",
			zap.String("from", from),
			zap.String("to", t.To),
			zap.String("amount", t.Amount.String()),
			zap.String("ref", t.Ref),
			zap.Int("index", i))

		if progress != nil {
			if err := progress(ctx, i+1); err != nil {
				if i+1 < len(transfers) {
					return fail(res, i+1, customError.WrapDatabaseError(err))
				}
				res.Err = customError.WrapDatabaseError(err)
				return res
			}
		}
	}
	return res
}

// Execute is the single-transfer form of ExecuteBatch.
func (e *DisbursementExecutor) Execute(ctx context.Context, from string, t domain.Transfer) (*domain.Receipt, error) {
	res := e.ExecuteBatch(ctx, from, []domain.Transfer{t}, 0, nil)
	if res.Err != nil {
		return nil, res.Err
	}
	return &res.Receipts[0], nil
}

// transfer treats a duplicate-ref rejection as an earlier attempt that went
// through, and confirms it from the ledger history.
func (e *DisbursementExecutor) transfer(ctx context.Context, from string, t domain.Transfer) (*domain.Receipt, error) {
	receipt, err := e.ledger.Transfer(ctx, from, t.To, t.Amount, t.Ref)
	if err == nil {
		return receipt, nil
	}
	if errors.Is(err, ledger.ErrDuplicateRef) {
		if r, ok, herr := FindReceipt(ctx, e.ledger, from, t.Ref); herr == nil && ok {
			return r, nil
		}
	}
	return nil, customError.WrapLedgerFailure("transfer", t.Ref, ledger.IsTimeout(err), err)
}

// FindReceipt looks ref up in the recent history of account.
func FindReceipt(ctx context.Context, l ledger.Ledger, account, ref string) (*domain.Receipt, bool, error) {
	history, err := l.RecentHistory(ctx, account)
	if err != nil {
		return nil, false, err
	}
	h, ok := ledger.FindByRef(history, ref)
	if !ok {
		return nil, false, nil
	}
	return &domain.Receipt{
		Ref:       h.Ref,
		From:      h.From,
		To:        h.To,
		Amount:    h.Amount,
		Timestamp: h.Timestamp,
	}, true, nil
}

func fail(res domain.BatchResult, at int, err error) domain.BatchResult {
	res.FailedAt = &at
	res.Err = err
	return res
}
