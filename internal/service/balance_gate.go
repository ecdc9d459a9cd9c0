package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/segyhp/vault-engine/internal/ledger"
	customError "github.com/segyhp/vault-engine/pkg/errors"
)

// CanDisburse compares a vault balance with the total a disbursement needs.
// When the balance falls short, ok is false and shortfall is the difference.
func CanDisburse(balance, required decimal.Decimal) (shortfall decimal.Decimal, ok bool) {
	if balance.GreaterThanOrEqual(required) {
		return decimal.Zero, true
	}
	return required.Sub(balance), false
}

// BalanceGate must pass before any path calls the ledger to move funds.
// It is not atomic with the transfer that follows; the ledger still rejects
// over-drafts on its own.
type BalanceGate struct {
	ledger ledger.Ledger
}

func NewBalanceGate(l ledger.Ledger) *BalanceGate {
	return &BalanceGate{ledger: l}
}

// Check reads the live balance of account and returns an
// INSUFFICIENT_BALANCE error when it cannot cover required.
func (g *BalanceGate) Check(ctx context.Context, account string, required decimal.Decimal) error {
	balance, err := g.ledger.BalanceOf(ctx, account)
	if err != nil {
		return customError.WrapLedgerFailure("balanceOf", "", ledger.IsTimeout(err), err)
	}
	if shortfall, ok := CanDisburse(balance, required); !ok {
		return customError.WrapInsufficientBalance(account, required.String(), balance.String(), shortfall.String())
	}
	return nil
}
