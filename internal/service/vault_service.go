package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/ledger"
	customError "github.com/segyhp/vault-engine/pkg/errors"
)

// VaultService is the owner's direct access to the vault. Every mutating
// call is reported on the activity bus.
type VaultService struct {
	ledger   ledger.Ledger
	gate     *BalanceGate
	executor *DisbursementExecutor
	activity *ActivityBus
	logger   *zap.Logger
	now      func() time.Time
}

func NewVaultService(l ledger.Ledger, executor *DisbursementExecutor, activity *ActivityBus, logger *zap.Logger) *VaultService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VaultService{
		ledger:   l,
		gate:     NewBalanceGate(l),
		executor: executor,
		activity: activity,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *VaultService) Deposit(ctx context.Context, account string, amount decimal.Decimal) (*domain.Receipt, error) {
	if err := s.validate(account, amount); err != nil {
		return nil, err
	}
	account = ledger.NormalizeAddress(account)
	ref := ledger.NewRef(domain.ActionDeposit, account, uuid.NewString())

	receipt, err := s.ledger.Deposit(ctx, account, amount, ref)
	if err != nil {
		return nil, customError.WrapLedgerFailure(domain.ActionDeposit, ref, ledger.IsTimeout(err), err)
	}
	s.done(ctx, account, domain.ActionDeposit, receipt)
	return receipt, nil
}

// Withdraw moves funds out of the vault to to, or back to the owner's own
// wallet when to is empty.
func (s *VaultService) Withdraw(ctx context.Context, account string, amount decimal.Decimal, to string) (*domain.Receipt, error) {
	if err := s.validate(account, amount); err != nil {
		return nil, err
	}
	if to != "" && !ledger.ValidAddress(to) {
		return nil, customError.WrapValidation("invalid destination address %q", to)
	}
	account = ledger.NormalizeAddress(account)
	if err := s.gate.Check(ctx, account, amount); err != nil {
		return nil, err
	}

	ref := ledger.NewRef(domain.ActionWithdraw, account, uuid.NewString())
	receipt, err := s.ledger.Withdraw(ctx, account, amount, ledger.NormalizeAddress(to), ref)
	if err != nil {
		return nil, customError.WrapLedgerFailure(domain.ActionWithdraw, ref, ledger.IsTimeout(err), err)
	}
	s.done(ctx, account, domain.ActionWithdraw, receipt)
	return receipt, nil
}

// Pay transfers from the owner's vault to another account.
func (s *VaultService) Pay(ctx context.Context, account string, amount decimal.Decimal, to string) (*domain.Receipt, error) {
	if err := s.validate(account, amount); err != nil {
		return nil, err
	}
	if !ledger.ValidAddress(to) {
		return nil, customError.WrapValidation("invalid recipient address %q", to)
	}
	account = ledger.NormalizeAddress(account)
	if ledger.SameAddress(account, to) {
		return nil, customError.WrapValidation("cannot pay yourself")
	}
	if err := s.gate.Check(ctx, account, amount); err != nil {
		return nil, err
	}

	receipt, err := s.executor.Execute(ctx, account, domain.Transfer{
		To:     ledger.NormalizeAddress(to),
		Amount: amount,
		Memo:   "vault payment",
		Ref:    ledger.NewRef(domain.ActionPay, account, uuid.NewString()),
	})
	if err != nil {
		return nil, err
	}
	s.done(ctx, account, domain.ActionPay, receipt)
	return receipt, nil
}

func (s *VaultService) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	if !ledger.ValidAddress(account) {
		return decimal.Zero, customError.WrapValidation("invalid account address %q", account)
	}
	bal, err := s.ledger.BalanceOf(ctx, ledger.NormalizeAddress(account))
	if err != nil {
		return decimal.Zero, customError.WrapLedgerFailure("balanceOf", "", ledger.IsTimeout(err), err)
	}
	return bal, nil
}

func (s *VaultService) History(ctx context.Context, account string) ([]domain.HistoryEntry, error) {
	if !ledger.ValidAddress(account) {
		return nil, customError.WrapValidation("invalid account address %q", account)
	}
	h, err := s.ledger.RecentHistory(ctx, ledger.NormalizeAddress(account))
	if err != nil {
		return nil, customError.WrapLedgerFailure("recentHistory", "", ledger.IsTimeout(err), err)
	}
	return h, nil
}

func (s *VaultService) validate(account string, amount decimal.Decimal) error {
	if !ledger.ValidAddress(account) {
		return customError.WrapValidation("invalid account address %q", account)
	}
	if !amount.IsPositive() {
		return customError.WrapValidation("amount must be positive")
	}
	return nil
}

func (s *VaultService) done(ctx context.Context, account, action string, r *domain.Receipt) {
	s.logger.Info("vault "+action,
		zap.String("account", account),
		zap.String("amount", r.Amount.String()),
		zap.String("ref", r.Ref),
		zap.String("tx_hash", r.TxHash))
	s.activity.Publish(ctx, domain.ActivityEvent{Account: account, Action: action, At: s.now()})
}
