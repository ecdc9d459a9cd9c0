package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OfferStatusActive   = "active"
	OfferStatusBorrowed = "borrowed"
	OfferStatusRepaid   = "repaid"
)

const (
	RequestStatusPending  = "pending"
	RequestStatusAccepted = "accepted"
	RequestStatusRejected = "rejected"
	RequestStatusFunded   = "funded"
)

const (
	LoanStatusActive = "active"
	LoanStatusRepaid = "repaid"
)

// LoanOffer is a lender's standing offer in the marketplace.
type LoanOffer struct {
	ID              string          `json:"id"`
	LenderAccount   string          `json:"lender_account"`
	Amount          decimal.Decimal `json:"amount"`
	InterestRatePct decimal.Decimal `json:"interest_rate_pct"`
	DurationDays    int             `json:"duration_days"`
	Description     string          `json:"description"`
	Status          string          `json:"status"`
	Borrower        string          `json:"borrower,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LoanRequest is a borrower's ask, optionally against an offer.
type LoanRequest struct {
	ID              string          `json:"id"`
	BorrowerAccount string          `json:"borrower_account"`
	LenderAccount   string          `json:"lender_account"`
	Amount          decimal.Decimal `json:"amount"`
	InterestRatePct decimal.Decimal `json:"interest_rate_pct"`
	DurationDays    int             `json:"duration_days"`
	Reason          string          `json:"reason"`
	OfferID         string          `json:"offer_id,omitempty"`
	Status          string          `json:"status"`
	// FundingRef is fixed before the funding transfer is attempted so a retry
	// can find an already executed transfer in the ledger history.
	FundingRef string    `json:"funding_ref,omitempty"`
	LoanID     string    `json:"loan_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Installment is one repayment applied to a loan.
type Installment struct {
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
	ReceiptRef string          `json:"receipt_ref"`
}

// Loan is an active borrow record created when a request is funded.
type Loan struct {
	ID                string          `json:"id"`
	RequestID         string          `json:"request_id"`
	OfferID           string          `json:"offer_id,omitempty"`
	BorrowerAccount   string          `json:"borrower_account"`
	LenderAccount     string          `json:"lender_account"`
	PrincipalAmount   decimal.Decimal `json:"principal_amount"`
	InterestRatePct   decimal.Decimal `json:"interest_rate_pct"`
	DurationDays      int             `json:"duration_days"`
	TotalRepayment    decimal.Decimal `json:"total_repayment"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	DueDate           time.Time       `json:"due_date"`
	Status            string          `json:"status"`
	PaidInstallments  []Installment   `json:"paid_installments"`
	FundedAt          time.Time       `json:"funded_at"`
	RepaidAt          *time.Time      `json:"repaid_at,omitempty"`
	FundingReceiptRef string          `json:"funding_receipt_ref"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsOverdue is derived and never stored.
func (l *Loan) IsOverdue(now time.Time) bool {
	return l.Status == LoanStatusActive && now.After(l.DueDate)
}

// DTOs for requests and responses

type CreateOfferRequest struct {
	LenderAccount   string          `json:"lender_account" validate:"required,eth_addr"`
	Amount          decimal.Decimal `json:"amount" validate:"decimal_gt=0"`
	InterestRatePct decimal.Decimal `json:"interest_rate_pct" validate:"decimal_gte=0"`
	DurationDays    int             `json:"duration_days" validate:"required,gte=1"`
	Description     string          `json:"description" validate:"max=500"`
}

type CreateLoanRequestRequest struct {
	BorrowerAccount string          `json:"borrower_account" validate:"required,eth_addr"`
	LenderAccount   string          `json:"lender_account" validate:"omitempty,eth_addr"`
	Amount          decimal.Decimal `json:"amount"`
	InterestRatePct decimal.Decimal `json:"interest_rate_pct"`
	DurationDays    int             `json:"duration_days"`
	Reason          string          `json:"reason" validate:"max=500"`
	OfferID         string          `json:"offer_id"`
}

type RepayRequest struct {
	BorrowerAccount string          `json:"borrower_account" validate:"required,eth_addr"`
	Amount          decimal.Decimal `json:"amount" validate:"decimal_gt=0"`
	IsFinal         bool            `json:"is_final"`
}

// AccountRequest identifies the acting account for accept, reject and fund.
type AccountRequest struct {
	Account string `json:"account" validate:"required,eth_addr"`
}

// DueNotice is produced for loans due soon or overdue.
type DueNotice struct {
	LoanID          string          `json:"loan_id"`
	Role            string          `json:"role"`
	Counterparty    string          `json:"counterparty"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	DueDate         time.Time       `json:"due_date"`
	DaysRemaining   int             `json:"days_remaining"`
	Overdue         bool            `json:"overdue"`
}
