package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors
var (
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient vault balance")
	ErrLedgerFailure       = errors.New("ledger operation failed")
	ErrAlreadyClaimed      = errors.New("nominee share already claimed")
	ErrAlreadyRepaid       = errors.New("loan is already repaid")
	ErrScheduleCompleted   = errors.New("schedule has completed")
	ErrSchedulePaused      = errors.New("schedule is paused")
	ErrApprovalDeclined    = errors.New("approval signature declined")
	ErrNotFound            = errors.New("not found")
	ErrNotInactive         = errors.New("owner is not inactive")
	ErrNotNominee          = errors.New("claimant is not the configured nominee")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrActiveLoanExists    = errors.New("an active loan already exists between lender and borrower")
	ErrForbidden           = errors.New("operation not permitted for account")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeLedgerFailure       = "LEDGER_FAILURE"
	ErrCodeAlreadyClaimed      = "ALREADY_CLAIMED"
	ErrCodeAlreadyRepaid       = "ALREADY_REPAID"
	ErrCodeScheduleCompleted   = "SCHEDULE_COMPLETED"
	ErrCodeSchedulePaused      = "SCHEDULE_PAUSED"
	ErrCodeApprovalDeclined    = "APPROVAL_DECLINED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeNotInactive         = "NOT_INACTIVE"
	ErrCodeNotNominee          = "NOT_NOMINEE"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeActiveLoanExists    = "ACTIVE_LOAN_EXISTS"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeDatabaseError       = "DATABASE_ERROR"
)

// InsufficientBalanceError carries the shortfall reported by the balance gate.
type InsufficientBalanceError struct {
	Account   string
	Required  string
	Available string
	Shortfall string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("account %s needs %s but holds %s (short by %s)", e.Account, e.Required, e.Available, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// LedgerError wraps a failed ledger call. Ambiguous is set when the call timed
// out and the transfer may still have been applied.
type LedgerError struct {
	Op        string
	Ref       string
	Ambiguous bool
	Err       error
}

func (e *LedgerError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("ledger %s (ref %s) outcome unknown: %v", e.Op, e.Ref, e.Err)
	}
	return fmt.Sprintf("ledger %s (ref %s) failed: %v", e.Op, e.Ref, e.Err)
}

func (e *LedgerError) Unwrap() []error {
	return []error{ErrLedgerFailure, e.Err}
}

// Wrap common errors with business context
func WrapValidation(format string, args ...any) *BusinessError {
	return NewBusinessError(ErrCodeValidation, fmt.Sprintf(format, args...), ErrValidation)
}

func WrapInsufficientBalance(account, required, available, shortfall string) *BusinessError {
	return NewBusinessError(
		ErrCodeInsufficientBalance,
		fmt.Sprintf("Insufficient vault balance for %s", account),
		&InsufficientBalanceError{Account: account, Required: required, Available: available, Shortfall: shortfall},
	)
}

func WrapLedgerFailure(op, ref string, ambiguous bool, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeLedgerFailure,
		fmt.Sprintf("Ledger %s failed", op),
		&LedgerError{Op: op, Ref: ref, Ambiguous: ambiguous, Err: err},
	)
}

func WrapAlreadyClaimed(owner string, index int) *BusinessError {
	return NewBusinessError(
		ErrCodeAlreadyClaimed,
		fmt.Sprintf("Nominee %d of %s has already claimed", index, owner),
		ErrAlreadyClaimed,
	)
}

func WrapAlreadyRepaid(loanID string) *BusinessError {
	return NewBusinessError(
		ErrCodeAlreadyRepaid,
		fmt.Sprintf("Loan with ID %s is already repaid", loanID),
		ErrAlreadyRepaid,
	)
}

func WrapScheduleCompleted(scheduleID string) *BusinessError {
	return NewBusinessError(
		ErrCodeScheduleCompleted,
		fmt.Sprintf("Schedule %s has completed all payments", scheduleID),
		ErrScheduleCompleted,
	)
}

func WrapSchedulePaused(scheduleID string) *BusinessError {
	return NewBusinessError(
		ErrCodeSchedulePaused,
		fmt.Sprintf("Schedule %s is paused", scheduleID),
		ErrSchedulePaused,
	)
}

func WrapApprovalDeclined(scheduleName string, err error) *BusinessError {
	return NewBusinessError(
		ErrCodeApprovalDeclined,
		fmt.Sprintf("Owner declined to approve schedule %q", scheduleName),
		errors.Join(ErrApprovalDeclined, err),
	)
}

func WrapNotFound(kind, id string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotFound,
		fmt.Sprintf("%s with ID %s not found", kind, id),
		ErrNotFound,
	)
}

func WrapNotInactive(owner string) *BusinessError {
	return NewBusinessError(
		ErrCodeNotInactive,
		fmt.Sprintf("Owner %s is still active", owner),
		ErrNotInactive,
	)
}

func WrapNotNominee(claimant string, index int) *BusinessError {
	return NewBusinessError(
		ErrCodeNotNominee,
		fmt.Sprintf("%s is not nominee %d", claimant, index),
		ErrNotNominee,
	)
}

func WrapInvalidState(kind, id, status, action string) *BusinessError {
	return NewBusinessError(
		ErrCodeInvalidState,
		fmt.Sprintf("Cannot %s %s %s in status %s", action, kind, id, status),
		ErrInvalidState,
	)
}

func WrapActiveLoanExists(lender, borrower string) *BusinessError {
	return NewBusinessError(
		ErrCodeActiveLoanExists,
		fmt.Sprintf("Lender %s already has an active loan to %s", lender, borrower),
		ErrActiveLoanExists,
	)
}

func WrapForbidden(account, action string) *BusinessError {
	return NewBusinessError(
		ErrCodeForbidden,
		fmt.Sprintf("Account %s may not %s", account, action),
		ErrForbidden,
	)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(
		ErrCodeDatabaseError,
		"database operation failed",
		err,
	)
}

// IsAmbiguous reports whether err is a ledger failure whose outcome is unknown.
func IsAmbiguous(err error) bool {
	var le *LedgerError
	return errors.As(err, &le) && le.Ambiguous
}

// HTTPStatus maps an error to the status code handlers should answer with.
func HTTPStatus(err error) int {
	var be *BusinessError
	if !errors.As(err, &be) {
		return http.StatusInternalServerError
	}
	switch be.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden, ErrCodeNotNominee:
		return http.StatusForbidden
	case ErrCodeInsufficientBalance:
		return http.StatusPaymentRequired
	case ErrCodeAlreadyClaimed, ErrCodeAlreadyRepaid, ErrCodeScheduleCompleted,
		ErrCodeSchedulePaused, ErrCodeInvalidState, ErrCodeActiveLoanExists, ErrCodeNotInactive:
		return http.StatusConflict
	case ErrCodeLedgerFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
