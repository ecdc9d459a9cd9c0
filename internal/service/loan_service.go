package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/config"
	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/ledger"
	"github.com/segyhp/vault-engine/internal/repository"
	"github.com/segyhp/vault-engine/internal/store"
	customError "github.com/segyhp/vault-engine/pkg/errors"
	"github.com/segyhp/vault-engine/pkg/utils"
)

const day = 24 * time.Hour

// LoanService drives offers, requests and loans through their lifecycle.
type LoanService struct {
	OfferRepo   repository.OfferRepository
	RequestRepo repository.LoanRequestRepository
	LoanRepo    repository.LoanRepository
	ledger      ledger.Ledger
	gate        *BalanceGate
	executor    *DisbursementExecutor
	activity    *ActivityBus
	config      config.BusinessConfig
	logger      *zap.Logger
	now         func() time.Time
	locks       keyedMutex
}

func NewLoanService(
	offerRepo repository.OfferRepository,
	requestRepo repository.LoanRequestRepository,
	loanRepo repository.LoanRepository,
	l ledger.Ledger,
	executor *DisbursementExecutor,
	activity *ActivityBus,
	cfg config.BusinessConfig,
	logger *zap.Logger,
) *LoanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoanService{
		OfferRepo:   offerRepo,
		RequestRepo: requestRepo,
		LoanRepo:    loanRepo,
		ledger:      l,
		gate:        NewBalanceGate(l),
		executor:    executor,
		activity:    activity,
		config:      cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateOffer publishes a lender's offer.
func (s *LoanService) CreateOffer(ctx context.Context, req *domain.CreateOfferRequest) (*domain.LoanOffer, error) {
	if err := validateTerms(req.Amount, req.InterestRatePct, req.DurationDays); err != nil {
		return nil, err
	}
	if !ledger.ValidAddress(req.LenderAccount) {
		return nil, customError.WrapValidation("invalid lender address %q", req.LenderAccount)
	}

	now := s.now()
	offer := &domain.LoanOffer{
		LenderAccount:   ledger.NormalizeAddress(req.LenderAccount),
		Amount:          req.Amount,
		InterestRatePct: req.InterestRatePct,
		DurationDays:    req.DurationDays,
		Description:     req.Description,
		Status:          domain.OfferStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.OfferRepo.Create(ctx, offer); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return offer, nil
}

// UpdateOffer edits the terms of an offer that has not been borrowed yet.
func (s *LoanService) UpdateOffer(ctx context.Context, offerID string, req *domain.CreateOfferRequest) (*domain.LoanOffer, error) {
	if err := validateTerms(req.Amount, req.InterestRatePct, req.DurationDays); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("offer:" + offerID)
	defer unlock()

	offer, err := s.ownedActiveOffer(ctx, offerID, req.LenderAccount, "update")
	if err != nil {
		return nil, err
	}
	offer.Amount = req.Amount
	offer.InterestRatePct = req.InterestRatePct
	offer.DurationDays = req.DurationDays
	offer.Description = req.Description
	offer.UpdatedAt = s.now()

	if err := s.OfferRepo.Save(ctx, offer); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return offer, nil
}

func (s *LoanService) DeleteOffer(ctx context.Context, offerID, lender string) error {
	unlock := s.locks.Lock("offer:" + offerID)
	defer unlock()

	if _, err := s.ownedActiveOffer(ctx, offerID, lender, "delete"); err != nil {
		return err
	}
	if err := s.OfferRepo.Delete(ctx, offerID); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

// ListOffers returns the active offers, newest first.
func (s *LoanService) ListOffers(ctx context.Context) ([]*domain.LoanOffer, error) {
	offers, err := s.OfferRepo.List(ctx)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	active := make([]*domain.LoanOffer, 0, len(offers))
	for _, o := range offers {
		if o.Status == domain.OfferStatusActive {
			active = append(active, o)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	return active, nil
}

// Request records a borrower's ask. Against an offer, the offer's lender and
// terms are copied into the request.
func (s *LoanService) Request(ctx context.Context, req *domain.CreateLoanRequestRequest) (*domain.LoanRequest, error) {
	if !ledger.ValidAddress(req.BorrowerAccount) {
		return nil, customError.WrapValidation("invalid borrower address %q", req.BorrowerAccount)
	}
	borrower := ledger.NormalizeAddress(req.BorrowerAccount)

	lr := &domain.LoanRequest{
		BorrowerAccount: borrower,
		LenderAccount:   ledger.NormalizeAddress(req.LenderAccount),
		Amount:          req.Amount,
		InterestRatePct: req.InterestRatePct,
		DurationDays:    req.DurationDays,
		Reason:          req.Reason,
		Status:          domain.RequestStatusPending,
	}

	if req.OfferID != "" {
		offer, err := s.OfferRepo.GetByID(ctx, req.OfferID)
		if err != nil {
			return nil, mapStoreError("offer", req.OfferID, err)
		}
		if offer.Status != domain.OfferStatusActive {
			return nil, customError.WrapInvalidState("offer", offer.ID, offer.Status, "request")
		}
		if offer.LenderAccount == borrower {
			return nil, customError.WrapForbidden(borrower, "borrow from own offer")
		}
		lr.OfferID = offer.ID
		lr.LenderAccount = offer.LenderAccount
		lr.Amount = offer.Amount
		lr.InterestRatePct = offer.InterestRatePct
		lr.DurationDays = offer.DurationDays
	} else if !ledger.ValidAddress(req.LenderAccount) {
		return nil, customError.WrapValidation("invalid lender address %q", req.LenderAccount)
	}

	if err := validateTerms(lr.Amount, lr.InterestRatePct, lr.DurationDays); err != nil {
		return nil, err
	}
	if lr.LenderAccount == borrower {
		return nil, customError.WrapValidation("borrower and lender must differ")
	}

	now := s.now()
	lr.CreatedAt = now
	lr.UpdatedAt = now
	if err := s.RequestRepo.Create(ctx, lr); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return lr, nil
}

// Accept moves a pending request to accepted and reserves its offer. No
// funds move; Fund must follow. Accepting twice is harmless.
func (s *LoanService) Accept(ctx context.Context, requestID, lender string) (*domain.LoanRequest, error) {
	unlock := s.locks.Lock("request:" + requestID)
	defer unlock()

	lr, err := s.lenderRequest(ctx, requestID, lender, "accept")
	if err != nil {
		return nil, err
	}
	switch lr.Status {
	case domain.RequestStatusAccepted:
		return lr, nil
	case domain.RequestStatusPending:
	default:
		return nil, customError.WrapInvalidState("loan request", lr.ID, lr.Status, "accept")
	}

	now := s.now()
	if lr.OfferID != "" {
		unlockOffer := s.locks.Lock("offer:" + lr.OfferID)
		defer unlockOffer()

		offer, err := s.OfferRepo.GetByID(ctx, lr.OfferID)
		if err != nil {
			return nil, mapStoreError("offer", lr.OfferID, err)
		}
		if offer.Status != domain.OfferStatusActive {
			return nil, customError.WrapInvalidState("offer", offer.ID, offer.Status, "accept")
		}
		offer.Status = domain.OfferStatusBorrowed
		offer.Borrower = lr.BorrowerAccount
		offer.UpdatedAt = now
		if err := s.OfferRepo.Save(ctx, offer); err != nil {
			return nil, customError.WrapDatabaseError(err)
		}
	}

	lr.Status = domain.RequestStatusAccepted
	lr.UpdatedAt = now
	if err := s.RequestRepo.Save(ctx, lr); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return lr, nil
}

// Reject is terminal for a pending request.
func (s *LoanService) Reject(ctx context.Context, requestID, lender string) (*domain.LoanRequest, error) {
	unlock := s.locks.Lock("request:" + requestID)
	defer unlock()

	lr, err := s.lenderRequest(ctx, requestID, lender, "reject")
	if err != nil {
		return nil, err
	}
	switch lr.Status {
	case domain.RequestStatusRejected:
		return lr, nil
	case domain.RequestStatusPending:
	default:
		return nil, customError.WrapInvalidState("loan request", lr.ID, lr.Status, "reject")
	}

	lr.Status = domain.RequestStatusRejected
	lr.UpdatedAt = s.now()
	if err := s.RequestRepo.Save(ctx, lr); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return lr, nil
}

// Fund transfers the principal lender→borrower and creates the loan. The
// funding ref is stored on the request before the transfer, so a retry
// after a crash or an ambiguous timeout finds the earlier transfer in the
// ledger history instead of paying twice. The request and offer are marked
// consumed only after the loan record is written.
func (s *LoanService) Fund(ctx context.Context, requestID, lender string) (*domain.Loan, error) {
	unlock := s.locks.Lock("request:" + requestID)
	defer unlock()

	lr, err := s.lenderRequest(ctx, requestID, lender, "fund")
	if err != nil {
		return nil, err
	}
	loanID := LoanIDFor(lr.ID)

	switch lr.Status {
	case domain.RequestStatusFunded:
		return s.GetLoan(ctx, loanID)
	case domain.RequestStatusAccepted:
	default:
		return nil, customError.WrapInvalidState("loan request", lr.ID, lr.Status, "fund")
	}

	if s.config.EnforceSingleActiveLoan {
		if err := s.checkNoActiveLoan(ctx, lr.LenderAccount, lr.BorrowerAccount, loanID); err != nil {
			return nil, err
		}
	}

	if lr.FundingRef == "" {
		lr.FundingRef = ledger.NewRef("fund", lr.ID)
		if err := s.RequestRepo.Update(ctx, lr.ID, map[string]any{"funding_ref": lr.FundingRef}); err != nil {
			return nil, customError.WrapDatabaseError(err)
		}
	}

	log := s.logger.With(zap.String("request_id", lr.ID), zap.String("loan_id", loanID), zap.String("ref", lr.FundingRef))

	receipt, found, err := FindReceipt(ctx, s.ledger, lr.LenderAccount, lr.FundingRef)
	if err != nil {
		return nil, customError.WrapLedgerFailure("recentHistory", lr.FundingRef, ledger.IsTimeout(err), err)
	}
	if found {
		log.Info("funding transfer already executed, recording loan")
	} else {
		if err := s.gate.Check(ctx, lr.LenderAccount, lr.Amount); err != nil {
			return nil, err
		}
		receipt, err = s.executor.Execute(ctx, lr.LenderAccount, domain.Transfer{
			To:     lr.BorrowerAccount,
			Amount: lr.Amount,
			Memo:   "loan funding",
			Ref:    lr.FundingRef,
		})
		if err != nil {
			log.Warn("loan funding failed", zap.Bool("ambiguous", customError.IsAmbiguous(err)), zap.Error(err))
			return nil, err
		}
	}

	fundedAt := s.now()
	total := utils.CalculateTotalRepayment(lr.Amount, lr.InterestRatePct)
	loan := &domain.Loan{
		ID:                loanID,
		RequestID:         lr.ID,
		OfferID:           lr.OfferID,
		BorrowerAccount:   lr.BorrowerAccount,
		LenderAccount:     lr.LenderAccount,
		PrincipalAmount:   lr.Amount,
		InterestRatePct:   lr.InterestRatePct,
		DurationDays:      lr.DurationDays,
		TotalRepayment:    total,
		RemainingAmount:   total,
		DueDate:           fundedAt.Add(time.Duration(lr.DurationDays) * day),
		Status:            domain.LoanStatusActive,
		PaidInstallments:  []domain.Installment{},
		FundedAt:          fundedAt,
		FundingReceiptRef: receipt.Ref,
		UpdatedAt:         fundedAt,
	}
	if err := s.LoanRepo.Save(ctx, loan); err != nil {
		log.Error("funding transfer executed but loan record not written", zap.Error(err))
		return nil, customError.WrapDatabaseError(err)
	}

	lr.Status = domain.RequestStatusFunded
	lr.LoanID = loanID
	lr.UpdatedAt = fundedAt
	if err := s.RequestRepo.Save(ctx, lr); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	if lr.OfferID != "" {
		if err := s.markOffer(ctx, lr.OfferID, domain.OfferStatusBorrowed, lr.BorrowerAccount); err != nil {
			return nil, err
		}
	}

	s.activity.Publish(ctx, domain.ActivityEvent{Account: lr.LenderAccount, Action: "fund", At: fundedAt})
	log.Info("loan funded", zap.String("principal", lr.Amount.String()), zap.String("total_repayment", total.String()))
	return loan, nil
}

// Repay transfers amount borrower→lender, capped at what remains, and applies
// it as an installment. The loan becomes repaid when nothing remains or the
// payment is final.
func (s *LoanService) Repay(ctx context.Context, loanID string, req *domain.RepayRequest) (*domain.Loan, error) {
	if !req.Amount.IsPositive() {
		return nil, customError.WrapValidation("repayment amount must be positive")
	}

	unlock := s.locks.Lock("loan:" + loanID)
	defer unlock()

	loan, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	borrower := ledger.NormalizeAddress(req.BorrowerAccount)
	if loan.BorrowerAccount != borrower {
		return nil, customError.WrapForbidden(borrower, "repay loan "+loanID)
	}
	if loan.Status == domain.LoanStatusRepaid {
		return nil, customError.WrapAlreadyRepaid(loanID)
	}

	// Anything above the remaining balance stays with the borrower.
	amount := decimal.Min(req.Amount, loan.RemainingAmount)
	if !amount.IsPositive() {
		return nil, customError.WrapAlreadyRepaid(loanID)
	}

	ref := InstallmentRef(loanID, len(loan.PaidInstallments))
	log := s.logger.With(zap.String("loan_id", loanID), zap.String("ref", ref))

	receipt, found, err := FindReceipt(ctx, s.ledger, borrower, ref)
	if err != nil {
		return nil, customError.WrapLedgerFailure("recentHistory", ref, ledger.IsTimeout(err), err)
	}
	if found {
		log.Info("repayment transfer already executed, recording installment")
	} else {
		if err := s.gate.Check(ctx, borrower, amount); err != nil {
			return nil, err
		}
		receipt, err = s.executor.Execute(ctx, borrower, domain.Transfer{
			To:     loan.LenderAccount,
			Amount: amount,
			Memo:   "loan repayment",
			Ref:    ref,
		})
		if err != nil {
			log.Warn("loan repayment failed", zap.Bool("ambiguous", customError.IsAmbiguous(err)), zap.Error(err))
			return nil, err
		}
	}

	now := s.now()
	paid := receipt.Amount
	loan.PaidInstallments = append(loan.PaidInstallments, domain.Installment{
		Amount:     paid,
		Timestamp:  now,
		ReceiptRef: receipt.Ref,
	})
	loan.RemainingAmount = decimal.Max(decimal.Zero, loan.RemainingAmount.Sub(paid))
	if loan.RemainingAmount.IsZero() || req.IsFinal {
		loan.Status = domain.LoanStatusRepaid
		loan.RepaidAt = &now
	}
	loan.UpdatedAt = now

	if err := s.LoanRepo.Save(ctx, loan); err != nil {
		log.Error("repayment transfer executed but loan record not written", zap.Error(err))
		return nil, customError.WrapDatabaseError(err)
	}
	if loan.Status == domain.LoanStatusRepaid && loan.OfferID != "" {
		if err := s.markOffer(ctx, loan.OfferID, domain.OfferStatusRepaid, loan.BorrowerAccount); err != nil {
			return nil, err
		}
	}

	s.activity.Publish(ctx, domain.ActivityEvent{Account: borrower, Action: "repay", At: now})
	log.Info("loan repayment recorded",
		zap.String("amount", paid.String()),
		zap.String("remaining", loan.RemainingAmount.String()),
		zap.String("status", loan.Status))
	return loan, nil
}

func (s *LoanService) GetLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := s.LoanRepo.GetByID(ctx, loanID)
	if err != nil {
		return nil, mapStoreError("loan", loanID, err)
	}
	return loan, nil
}

// ListLoans returns the loans where account is borrower or lender.
func (s *LoanService) ListLoans(ctx context.Context, account string) ([]*domain.Loan, error) {
	loans, err := s.LoanRepo.List(ctx)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	account = ledger.NormalizeAddress(account)
	out := make([]*domain.Loan, 0)
	for _, l := range loans {
		if l.BorrowerAccount == account || l.LenderAccount == account {
			out = append(out, l)
		}
	}
	return out, nil
}

// ListRequests returns the requests where account is borrower or lender.
func (s *LoanService) ListRequests(ctx context.Context, account string) ([]*domain.LoanRequest, error) {
	reqs, err := s.RequestRepo.List(ctx)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	account = ledger.NormalizeAddress(account)
	out := make([]*domain.LoanRequest, 0)
	for _, r := range reqs {
		if r.BorrowerAccount == account || r.LenderAccount == account {
			out = append(out, r)
		}
	}
	return out, nil
}

// DueNotices lists active loans due within the configured window or already
// overdue. An empty account covers every loan, seen from the borrower.
func (s *LoanService) DueNotices(ctx context.Context, account string, now time.Time) ([]domain.DueNotice, error) {
	loans, err := s.LoanRepo.List(ctx)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	account = ledger.NormalizeAddress(account)

	notices := make([]domain.DueNotice, 0)
	for _, l := range loans {
		if l.Status != domain.LoanStatusActive {
			continue
		}
		days := utils.DaysRemaining(l.DueDate, now)
		if days > s.config.LoanDueSoonDays && !l.IsOverdue(now) {
			continue
		}

		n := domain.DueNotice{
			LoanID:          l.ID,
			RemainingAmount: l.RemainingAmount,
			DueDate:         l.DueDate,
			DaysRemaining:   days,
			Overdue:         l.IsOverdue(now),
		}
		switch account {
		case "", l.BorrowerAccount:
			n.Role = "borrower"
			n.Counterparty = l.LenderAccount
		case l.LenderAccount:
			n.Role = "lender"
			n.Counterparty = l.BorrowerAccount
		default:
			continue
		}
		notices = append(notices, n)
	}
	sort.Slice(notices, func(i, j int) bool { return notices[i].DueDate.Before(notices[j].DueDate) })
	return notices, nil
}

// LoanIDFor derives the loan id from the request that created it, so a
// retried funding writes the same record.
func LoanIDFor(requestID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("loan:"+requestID)).String()
}

// InstallmentRef is the ledger ref of the n-th repayment of a loan.
func InstallmentRef(loanID string, n int) string {
	return ledger.NewRef("repay", loanID, strconv.Itoa(n))
}

func (s *LoanService) checkNoActiveLoan(ctx context.Context, lender, borrower, exceptID string) error {
	loans, err := s.LoanRepo.List(ctx)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	for _, l := range loans {
		if l.ID != exceptID && l.Status == domain.LoanStatusActive &&
			l.LenderAccount == lender && l.BorrowerAccount == borrower {
			return customError.WrapActiveLoanExists(lender, borrower)
		}
	}
	return nil
}

func (s *LoanService) ownedActiveOffer(ctx context.Context, offerID, lender, action string) (*domain.LoanOffer, error) {
	offer, err := s.OfferRepo.GetByID(ctx, offerID)
	if err != nil {
		return nil, mapStoreError("offer", offerID, err)
	}
	lender = ledger.NormalizeAddress(lender)
	if offer.LenderAccount != lender {
		return nil, customError.WrapForbidden(lender, action+" offer "+offerID)
	}
	if offer.Status != domain.OfferStatusActive {
		return nil, customError.WrapInvalidState("offer", offerID, offer.Status, action)
	}
	return offer, nil
}

func (s *LoanService) lenderRequest(ctx context.Context, requestID, lender, action string) (*domain.LoanRequest, error) {
	lr, err := s.RequestRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, mapStoreError("loan request", requestID, err)
	}
	lender = ledger.NormalizeAddress(lender)
	if lr.LenderAccount != lender {
		return nil, customError.WrapForbidden(lender, action+" loan request "+requestID)
	}
	return lr, nil
}

func (s *LoanService) markOffer(ctx context.Context, offerID, status, borrower string) error {
	offer, err := s.OfferRepo.GetByID(ctx, offerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return customError.WrapDatabaseError(err)
	}
	offer.Status = status
	offer.Borrower = borrower
	offer.UpdatedAt = s.now()
	if err := s.OfferRepo.Save(ctx, offer); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

func validateTerms(amount, ratePct decimal.Decimal, durationDays int) error {
	if !amount.IsPositive() {
		return customError.WrapValidation("amount must be positive")
	}
	if ratePct.IsNegative() {
		return customError.WrapValidation("interest rate must not be negative")
	}
	if durationDays < 1 {
		return customError.WrapValidation("duration must be at least 1 day")
	}
	return nil
}

func mapStoreError(kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return customError.WrapNotFound(kind, id)
	}
	return customError.WrapDatabaseError(err)
}
