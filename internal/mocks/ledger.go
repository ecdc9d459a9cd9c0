package mocks

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/segyhp/vault-engine/internal/domain"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, ref string) (*domain.Receipt, error) {
	args := m.Called(ctx, from, to, amount, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Receipt), args.Error(1)
}

func (m *MockLedger) BalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockLedger) Deposit(ctx context.Context, account string, amount decimal.Decimal, ref string) (*domain.Receipt, error) {
	args := m.Called(ctx, account, amount, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Receipt), args.Error(1)
}

func (m *MockLedger) Withdraw(ctx context.Context, account string, amount decimal.Decimal, to, ref string) (*domain.Receipt, error) {
	args := m.Called(ctx, account, amount, to, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Receipt), args.Error(1)
}

func (m *MockLedger) RecentHistory(ctx context.Context, account string) ([]domain.HistoryEntry, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.HistoryEntry), args.Error(1)
}

type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) Sign(ctx context.Context, account, message string) (string, error) {
	args := m.Called(ctx, account, message)
	return args.String(0), args.Error(1)
}
