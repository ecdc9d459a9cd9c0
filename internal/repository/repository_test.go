package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/store"
	"github.com/segyhp/vault-engine/internal/store/memory"
)

const (
	owner  = "0x1111111111111111111111111111111111111111"
	other  = "0x2222222222222222222222222222222222222222"
	wallet = "0x3333333333333333333333333333333333333333"
)

func TestOfferRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewOfferRepository(memory.New())

	first := &domain.LoanOffer{LenderAccount: owner, Amount: decimal.NewFromInt(2), Status: domain.OfferStatusActive}
	second := &domain.LoanOffer{LenderAccount: other, Amount: decimal.NewFromInt(3), Status: domain.OfferStatusActive}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	assert.NotEmpty(t, first.ID)

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(2)))

	got.Status = domain.OfferStatusBorrowed
	require.NoError(t, repo.Save(ctx, got))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, domain.OfferStatusBorrowed, all[0].Status)

	require.NoError(t, repo.Delete(ctx, first.ID))
	_, err = repo.GetByID(ctx, first.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoanRequestRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := NewLoanRequestRepository(memory.New())

	req := &domain.LoanRequest{BorrowerAccount: owner, LenderAccount: other, Status: domain.RequestStatusPending}
	require.NoError(t, repo.Create(ctx, req))
	require.NoError(t, repo.Update(ctx, req.ID, map[string]any{"funding_ref": "0xref"}))

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xref", got.FundingRef)
	assert.Equal(t, domain.RequestStatusPending, got.Status)

	assert.ErrorIs(t, repo.Update(ctx, "missing", map[string]any{"status": "x"}), store.ErrNotFound)
}

func TestLoanRepository_Watch(t *testing.T) {
	ctx := context.Background()
	repo := NewLoanRepository(memory.New())

	var seen []string
	cancel, err := repo.Watch(ctx, func(l *domain.Loan) { seen = append(seen, l.ID+":"+l.Status) })
	require.NoError(t, err)

	loan := &domain.Loan{ID: "loan-1", Status: domain.LoanStatusActive}
	require.NoError(t, repo.Save(ctx, loan))
	loan.Status = domain.LoanStatusRepaid
	require.NoError(t, repo.Save(ctx, loan))
	cancel()
	require.NoError(t, repo.Save(ctx, loan))

	assert.Equal(t, []string{"loan-1:active", "loan-1:repaid"}, seen)
}

func TestScheduleRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewScheduleRepository(memory.New())

	next := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, acct := range []string{owner, owner, other} {
		s := &domain.PayrollSchedule{
			OwnerAccount:  acct,
			Name:          "payroll",
			Recurrence:    domain.Recurrence{Frequency: domain.FrequencyWeekly},
			Recipients:    []domain.PayrollRecipient{{Wallet: wallet, Amount: decimal.NewFromInt(1), Label: "dev"}},
			NextPaymentAt: &next,
		}
		require.NoError(t, repo.Create(ctx, s))
	}

	mine, err := repo.ListByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, mine, 2)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	progress := domain.BatchProgress{RunRef: "run", Completed: 1}
	require.NoError(t, repo.Update(ctx, owner, mine[0].ID, map[string]any{"in_flight": progress}))

	got, err := repo.GetByID(ctx, owner, mine[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.InFlight)
	assert.Equal(t, 1, got.InFlight.Completed)
	assert.Equal(t, domain.FrequencyWeekly, got.Frequency)

	require.NoError(t, repo.Delete(ctx, owner, mine[0].ID))
	mine, err = repo.ListByOwner(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestNomineeRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewNomineeRepository(memory.New())

	cfg := &domain.NomineeConfig{
		OwnerAccount:            owner,
		NomineeShares:           []domain.NomineeShare{{Address: other, SharePct: 100}},
		InactivityPeriodSeconds: 60,
	}
	require.NoError(t, repo.Save(ctx, cfg))
	require.NoError(t, repo.Update(ctx, owner, map[string]any{"claimed_indices": []int{0}}))

	got, err := repo.Get(ctx, owner)
	require.NoError(t, err)
	assert.True(t, got.IsClaimed(0))
	assert.Equal(t, int64(60), got.InactivityPeriodSeconds)

	require.NoError(t, repo.Delete(ctx, owner))
	_, err = repo.Get(ctx, owner)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
