package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/vault-engine/internal/domain"
	customError "github.com/segyhp/vault-engine/pkg/errors"
)

func (e *env) offer(t *testing.T, amount, rate string, days int) *domain.LoanOffer {
	t.Helper()
	o, err := e.loans.CreateOffer(context.Background(), &domain.CreateOfferRequest{
		LenderAccount:   lender,
		Amount:          dec(amount),
		InterestRatePct: dec(rate),
		DurationDays:    days,
	})
	require.NoError(t, err)
	return o
}

func (e *env) acceptedRequest(t *testing.T, offerID string) *domain.LoanRequest {
	t.Helper()
	ctx := context.Background()
	lr, err := e.loans.Request(ctx, &domain.CreateLoanRequestRequest{BorrowerAccount: borrower, OfferID: offerID})
	require.NoError(t, err)
	lr, err = e.loans.Accept(ctx, lr.ID, lender)
	require.NoError(t, err)
	return lr
}

func TestLoanLifecycle_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "5")
	e.fund(t, borrower, "1")

	offer := e.offer(t, "2", "10", 30)
	lr := e.acceptedRequest(t, offer.ID)
	assert.Equal(t, domain.RequestStatusAccepted, lr.Status)
	assert.True(t, e.balance(t, borrower).Equal(dec("1")), "accept must not move funds")

	loan, err := e.loans.Fund(ctx, lr.ID, lender)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, loan.Status)
	assert.True(t, loan.TotalRepayment.Equal(dec("2.2")))
	assert.True(t, loan.RemainingAmount.Equal(dec("2.2")))
	assert.Equal(t, t0.Add(30*24*time.Hour), loan.DueDate)
	assert.Equal(t, LoanIDFor(lr.ID), loan.ID)
	assert.True(t, e.balance(t, lender).Equal(dec("3")))
	assert.True(t, e.balance(t, borrower).Equal(dec("3")))

	e.clock.Set(t0.Add(24 * time.Hour))
	loan, err = e.loans.Repay(ctx, loan.ID, &domain.RepayRequest{BorrowerAccount: borrower, Amount: dec("1.2")})
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, loan.Status)
	assert.True(t, loan.RemainingAmount.Equal(dec("1")))
	require.Len(t, loan.PaidInstallments, 1)

	loan, err = e.loans.Repay(ctx, loan.ID, &domain.RepayRequest{BorrowerAccount: borrower, Amount: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusRepaid, loan.Status)
	assert.True(t, loan.RemainingAmount.IsZero())
	require.NotNil(t, loan.RepaidAt)
	assert.Len(t, loan.PaidInstallments, 2)
	assert.True(t, e.balance(t, lender).Equal(dec("5.2")))
	assert.True(t, e.balance(t, borrower).Equal(dec("0.8")))

	_, err = e.loans.Repay(ctx, loan.ID, &domain.RepayRequest{BorrowerAccount: borrower, Amount: dec("0.1")})
	assert.ErrorIs(t, err, customError.ErrAlreadyRepaid)

	stored, err := e.loans.OfferRepo.GetByID(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OfferStatusRepaid, stored.Status)
	assert.Equal(t, borrower, stored.Borrower)
}

func TestLoanService_FundIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "5")
	lr := e.acceptedRequest(t, e.offer(t, "2", "0", 10).ID)

	first, err := e.loans.Fund(ctx, lr.ID, lender)
	require.NoError(t, err)
	second, err := e.loans.Fund(ctx, lr.ID, lender)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, e.balance(t, lender).Equal(dec("3")))
}

func TestLoanService_FundAfterAmbiguousTimeoutPaysOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "5")
	lr := e.acceptedRequest(t, e.offer(t, "2", "10", 30).ID)

	e.ledger.InjectFault(func(op, from, to, ref string) (error, bool) {
		return context.DeadlineExceeded, true
	})
	_, err := e.loans.Fund(ctx, lr.ID, lender)
	require.Error(t, err)
	assert.True(t, customError.IsAmbiguous(err))
	assert.True(t, e.balance(t, lender).Equal(dec("3")), "transfer landed despite the timeout")

	e.ledger.InjectFault(nil)
	loan, err := e.loans.Fund(ctx, lr.ID, lender)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusActive, loan.Status)
	assert.True(t, e.balance(t, lender).Equal(dec("3")))
	assert.True(t, e.balance(t, borrower).Equal(dec("2")))
}

func TestLoanService_FundInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "1")
	lr := e.acceptedRequest(t, e.offer(t, "2", "10", 30).ID)

	_, err := e.loans.Fund(ctx, lr.ID, lender)

	var ib *customError.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, "1", ib.Shortfall)
	assert.True(t, e.balance(t, lender).Equal(dec("1")))

	stored, err := e.loans.RequestRepo.GetByID(ctx, lr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStatusAccepted, stored.Status)
	_, err = e.loans.GetLoan(ctx, LoanIDFor(lr.ID))
	assert.ErrorIs(t, err, customError.ErrNotFound)
}

func TestLoanService_SingleActiveLoanPerPair(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "10")

	first := e.acceptedRequest(t, e.offer(t, "2", "10", 30).ID)
	_, err := e.loans.Fund(ctx, first.ID, lender)
	require.NoError(t, err)

	second := e.acceptedRequest(t, e.offer(t, "1", "5", 10).ID)
	_, err = e.loans.Fund(ctx, second.ID, lender)
	assert.ErrorIs(t, err, customError.ErrActiveLoanExists)
	assert.True(t, e.balance(t, lender).Equal(dec("8")))
}

func TestLoanService_FinalPaymentClosesLoan(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "5")
	e.fund(t, borrower, "1")
	loan, err := e.loans.Fund(ctx, e.acceptedRequest(t, e.offer(t, "2", "10", 30).ID).ID, lender)
	require.NoError(t, err)

	loan, err = e.loans.Repay(ctx, loan.ID, &domain.RepayRequest{BorrowerAccount: borrower, Amount: dec("0.5"), IsFinal: true})
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusRepaid, loan.Status)
	assert.True(t, loan.RemainingAmount.Equal(dec("1.7")))
}

func TestLoanService_OverpaymentClampsToZero(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "5")
	e.fund(t, borrower, "5")
	loan, err := e.loans.Fund(ctx, e.acceptedRequest(t, e.offer(t, "1", "0", 7).ID).ID, lender)
	require.NoError(t, err)

	loan, err = e.loans.Repay(ctx, loan.ID, &domain.RepayRequest{BorrowerAccount: borrower, Amount: dec("1.5")})
	require.NoError(t, err)
	assert.True(t, loan.RemainingAmount.IsZero())
	assert.Equal(t, domain.LoanStatusRepaid, loan.Status)
	require.Len(t, loan.PaidInstallments, 1)
	assert.True(t, loan.PaidInstallments[0].Amount.Equal(dec("1")))

	// 5 + 1 borrowed - 1 repaid; the extra 0.5 never left the vault.
	assert.True(t, e.balance(t, borrower).Equal(dec("5")))
	assert.True(t, e.balance(t, lender).Equal(dec("5")))
}

func TestLoanService_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func(t *testing.T, e *env) error
		wantErr error
	}{
		{
			name: "borrow from own offer",
			run: func(t *testing.T, e *env) error {
				o := e.offer(t, "1", "5", 10)
				_, err := e.loans.Request(ctx, &domain.CreateLoanRequestRequest{BorrowerAccount: lender, OfferID: o.ID})
				return err
			},
			wantErr: customError.ErrForbidden,
		},
		{
			name: "offer updated by another account",
			run: func(t *testing.T, e *env) error {
				o := e.offer(t, "1", "5", 10)
				_, err := e.loans.UpdateOffer(ctx, o.ID, &domain.CreateOfferRequest{
					LenderAccount: borrower, Amount: dec("2"), InterestRatePct: dec("1"), DurationDays: 5,
				})
				return err
			},
			wantErr: customError.ErrForbidden,
		},
		{
			name: "offer deleted by another account",
			run: func(t *testing.T, e *env) error {
				return e.loans.DeleteOffer(ctx, e.offer(t, "1", "5", 10).ID, borrower)
			},
			wantErr: customError.ErrForbidden,
		},
		{
			name: "accept after reject",
			run: func(t *testing.T, e *env) error {
				lr, err := e.loans.Request(ctx, &domain.CreateLoanRequestRequest{
					BorrowerAccount: borrower, OfferID: e.offer(t, "1", "5", 10).ID,
				})
				require.NoError(t, err)
				_, err = e.loans.Reject(ctx, lr.ID, lender)
				require.NoError(t, err)
				_, err = e.loans.Accept(ctx, lr.ID, lender)
				return err
			},
			wantErr: customError.ErrInvalidState,
		},
		{
			name: "fund a pending request",
			run: func(t *testing.T, e *env) error {
				lr, err := e.loans.Request(ctx, &domain.CreateLoanRequestRequest{
					BorrowerAccount: borrower, OfferID: e.offer(t, "1", "5", 10).ID,
				})
				require.NoError(t, err)
				_, err = e.loans.Fund(ctx, lr.ID, lender)
				return err
			},
			wantErr: customError.ErrInvalidState,
		},
		{
			name: "accept by someone other than the lender",
			run: func(t *testing.T, e *env) error {
				lr, err := e.loans.Request(ctx, &domain.CreateLoanRequestRequest{
					BorrowerAccount: borrower, OfferID: e.offer(t, "1", "5", 10).ID,
				})
				require.NoError(t, err)
				_, err = e.loans.Accept(ctx, lr.ID, carol)
				return err
			},
			wantErr: customError.ErrForbidden,
		},
		{
			name: "repay by someone other than the borrower",
			run: func(t *testing.T, e *env) error {
				e.fund(t, lender, "5")
				e.fund(t, carol, "5")
				loan, err := e.loans.Fund(ctx, e.acceptedRequest(t, e.offer(t, "1", "5", 10).ID).ID, lender)
				require.NoError(t, err)
				_, err = e.loans.Repay(ctx, loan.ID, &domain.RepayRequest{BorrowerAccount: carol, Amount: dec("1")})
				return err
			},
			wantErr: customError.ErrForbidden,
		},
		{
			name: "repay more than the borrower holds",
			run: func(t *testing.T, e *env) error {
				e.fund(t, lender, "5")
				loan, err := e.loans.Fund(ctx, e.acceptedRequest(t, e.offer(t, "1", "5", 10).ID).ID, lender)
				require.NoError(t, err)
				_, err = e.loans.Repay(ctx, loan.ID, &domain.RepayRequest{BorrowerAccount: borrower, Amount: dec("2")})
				return err
			},
			wantErr: customError.ErrInsufficientBalance,
		},
		{
			name: "unknown loan",
			run: func(t *testing.T, e *env) error {
				_, err := e.loans.Repay(ctx, "missing", &domain.RepayRequest{BorrowerAccount: borrower, Amount: dec("1")})
				return err
			},
			wantErr: customError.ErrNotFound,
		},
		{
			name: "zero amount offer",
			run: func(t *testing.T, e *env) error {
				_, err := e.loans.CreateOffer(ctx, &domain.CreateOfferRequest{
					LenderAccount: lender, Amount: dec("0"), InterestRatePct: dec("1"), DurationDays: 5,
				})
				return err
			},
			wantErr: customError.ErrValidation,
		},
		{
			name: "zero duration offer",
			run: func(t *testing.T, e *env) error {
				_, err := e.loans.CreateOffer(ctx, &domain.CreateOfferRequest{
					LenderAccount: lender, Amount: dec("1"), InterestRatePct: dec("1"), DurationDays: 0,
				})
				return err
			},
			wantErr: customError.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			err := tt.run(t, e)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoanService_DirectRequestWithoutOffer(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "3")

	lr, err := e.loans.Request(ctx, &domain.CreateLoanRequestRequest{
		BorrowerAccount: borrower,
		LenderAccount:   lender,
		Amount:          dec("3"),
		InterestRatePct: dec("0"),
		DurationDays:    14,
		Reason:          "rent",
	})
	require.NoError(t, err)
	_, err = e.loans.Accept(ctx, lr.ID, lender)
	require.NoError(t, err)

	loan, err := e.loans.Fund(ctx, lr.ID, lender)
	require.NoError(t, err)
	assert.Empty(t, loan.OfferID)
	assert.True(t, loan.TotalRepayment.Equal(dec("3")))
	assert.True(t, e.balance(t, lender).IsZero())
}

func TestLoanService_ListOffersNewestFirst(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	older := e.offer(t, "1", "5", 10)
	e.clock.Set(t0.Add(time.Minute))
	newer := e.offer(t, "2", "5", 10)
	e.clock.Set(t0.Add(2 * time.Minute))
	taken := e.offer(t, "3", "5", 10)
	e.acceptedRequest(t, taken.ID)

	offers, err := e.loans.ListOffers(ctx)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, newer.ID, offers[0].ID)
	assert.Equal(t, older.ID, offers[1].ID)
}

func TestLoanService_DueNotices(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "5")
	loan, err := e.loans.Fund(ctx, e.acceptedRequest(t, e.offer(t, "2", "10", 10).ID).ID, lender)
	require.NoError(t, err)

	notices, err := e.loans.DueNotices(ctx, borrower, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, notices)

	notices, err = e.loans.DueNotices(ctx, borrower, t0.Add(8*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, loan.ID, notices[0].LoanID)
	assert.Equal(t, "borrower", notices[0].Role)
	assert.Equal(t, lender, notices[0].Counterparty)
	assert.False(t, notices[0].Overdue)

	notices, err = e.loans.DueNotices(ctx, lender, t0.Add(11*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, "lender", notices[0].Role)
	assert.True(t, notices[0].Overdue)

	notices, err = e.loans.DueNotices(ctx, carol, t0.Add(11*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, notices)
}

func TestLoanService_ListByAccount(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "5")
	_, err := e.loans.Fund(ctx, e.acceptedRequest(t, e.offer(t, "2", "10", 10).ID).ID, lender)
	require.NoError(t, err)

	for _, account := range []string{lender, borrower} {
		loans, err := e.loans.ListLoans(ctx, account)
		require.NoError(t, err)
		assert.Len(t, loans, 1)
		reqs, err := e.loans.ListRequests(ctx, account)
		require.NoError(t, err)
		assert.Len(t, reqs, 1)
	}
	loans, err := e.loans.ListLoans(ctx, carol)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestLoanService_PublishesActivity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, lender, "5")
	e.fund(t, borrower, "5")
	loan, err := e.loans.Fund(ctx, e.acceptedRequest(t, e.offer(t, "2", "10", 10).ID).ID, lender)
	require.NoError(t, err)
	_, err = e.loans.Repay(ctx, loan.ID, &domain.RepayRequest{BorrowerAccount: borrower, Amount: dec("1")})
	require.NoError(t, err)

	require.Len(t, e.events, 2)
	assert.Equal(t, domain.ActivityEvent{Account: lender, Action: "fund", At: t0}, e.events[0])
	assert.Equal(t, domain.ActivityEvent{Account: borrower, Action: "repay", At: t0}, e.events[1])
}
