package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/vault-engine/internal/domain"
)

// HistorySize is how many entries RecentHistory keeps per account.
const HistorySize = 50

// FaultFunc decides whether a call should fail. Returning applied=true
// simulates a timeout where the ledger did apply the mutation.
type FaultFunc func(op, from, to, ref string) (err error, applied bool)

// Memory is an in-process ledger. Transfers move funds between vault
// balances. Refs are deduplicated: replaying a ref returns the original
// receipt without moving funds again.
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	history  map[string][]domain.HistoryEntry
	receipts map[string]domain.Receipt
	fault    FaultFunc
	seq      int
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]decimal.Decimal),
		history:  make(map[string][]domain.HistoryEntry),
		receipts: make(map[string]domain.Receipt),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for receipts and history.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// InjectFault installs fn; nil clears it.
func (m *Memory) InjectFault(fn FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

func (m *Memory) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, ref string) (*domain.Receipt, error) {
	return m.apply(ctx, domain.ActionPay, from, to, amount, ref)
}

func (m *Memory) Deposit(ctx context.Context, account string, amount decimal.Decimal, ref string) (*domain.Receipt, error) {
	return m.apply(ctx, domain.ActionDeposit, "", account, amount, ref)
}

func (m *Memory) Withdraw(ctx context.Context, account string, amount decimal.Decimal, to, ref string) (*domain.Receipt, error) {
	if to == "" {
		to = account
	}
	return m.apply(ctx, domain.ActionWithdraw, account, to, amount, ref)
}

func (m *Memory) BalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[NormalizeAddress(account)], nil
}

func (m *Memory) RecentHistory(ctx context.Context, account string) ([]domain.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[NormalizeAddress(account)]
	out := make([]domain.HistoryEntry, len(h))
	copy(out, h)
	return out, nil
}

func (m *Memory) apply(ctx context.Context, action, from, to string, amount decimal.Decimal, ref string) (*domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("ledger: amount must be positive, got %s", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ref != "" {
		if r, ok := m.receipts[ref]; ok {
			return &r, nil
		}
	}

	var faultErr error
	if m.fault != nil {
		err, applied := m.fault(action, from, to, ref)
		if err != nil && !applied {
			return nil, err
		}
		faultErr = err
	}

	from, to = NormalizeAddress(from), NormalizeAddress(to)
	now := m.now()

	// deposits have no source vault; withdrawals leave the vault system
	switch action {
	case domain.ActionDeposit:
		m.balances[to] = m.balances[to].Add(amount)
		m.record(to, domain.HistoryEntry{Timestamp: now, From: to, To: to, Action: action, Amount: amount, BalanceAfter: m.balances[to], Ref: ref})
	case domain.ActionWithdraw:
		if m.balances[from].LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		m.balances[from] = m.balances[from].Sub(amount)
		m.record(from, domain.HistoryEntry{Timestamp: now, From: from, To: to, Action: action, Amount: amount, BalanceAfter: m.balances[from], Ref: ref})
	default:
		if m.balances[from].LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		m.balances[from] = m.balances[from].Sub(amount)
		m.balances[to] = m.balances[to].Add(amount)
		m.record(from, domain.HistoryEntry{Timestamp: now, From: from, To: to, Action: action, Amount: amount, BalanceAfter: m.balances[from], Ref: ref})
		m.record(to, domain.HistoryEntry{Timestamp: now, From: from, To: to, Action: action, Amount: amount, BalanceAfter: m.balances[to], Ref: ref})
	}

	m.seq++
	receipt := domain.Receipt{
		Ref:       ref,
		TxHash:    NewRef("tx", fmt.Sprint(m.seq), ref),
		From:      from,
		To:        to,
		Amount:    amount,
		Timestamp: now,
	}
	if ref != "" {
		m.receipts[ref] = receipt
	}
	if faultErr != nil {
		return nil, faultErr
	}
	return &receipt, nil
}

func (m *Memory) record(account string, e domain.HistoryEntry) {
	h := append(m.history[account], e)
	if len(h) > HistorySize {
		h = h[len(h)-HistorySize:]
	}
	m.history[account] = h
}
