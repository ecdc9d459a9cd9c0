package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is the cadence of a payroll schedule.
type Frequency string

const (
	FrequencyDaily        Frequency = "daily"
	FrequencyWeekly       Frequency = "weekly"
	FrequencyBiweekly     Frequency = "biweekly"
	FrequencyMonthly      Frequency = "monthly"
	FrequencyCustom       Frequency = "custom"
	FrequencySpecificDate Frequency = "specific-date"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyCustom, FrequencySpecificDate:
		return true
	}
	return false
}

// Recurrence groups the fields that drive next-occurrence arithmetic.
type Recurrence struct {
	Frequency          Frequency  `json:"frequency"`
	CustomIntervalDays int        `json:"custom_interval_days,omitempty"`
	SpecificDate       *time.Time `json:"specific_date,omitempty"`
}

// PayrollRecipient is embedded in a schedule.
type PayrollRecipient struct {
	Wallet string          `json:"wallet" validate:"required,eth_addr"`
	Amount decimal.Decimal `json:"amount" validate:"decimal_gt=0"`
	Label  string          `json:"label" validate:"required,max=100"`
}

// BatchProgress is persisted while a payroll run is in flight so a restarted
// run resumes from Completed instead of paying earlier recipients again.
type BatchProgress struct {
	RunRef    string    `json:"run_ref"`
	Completed int       `json:"completed"`
	StartedAt time.Time `json:"started_at"`
	LastError string    `json:"last_error,omitempty"`
}

// PayrollSchedule is a recurring or one-shot payment plan owned by an account.
type PayrollSchedule struct {
	ID                string             `json:"id"`
	OwnerAccount      string             `json:"owner_account"`
	Name              string             `json:"name"`
	Recurrence                           // frequency, custom interval, specific date
	StartDate         time.Time          `json:"start_date"`
	EndDate           *time.Time         `json:"end_date,omitempty"`
	PaymentCountLimit *int               `json:"payment_count_limit,omitempty"`
	Recipients        []PayrollRecipient `json:"recipients"`
	AutoExecute       bool               `json:"auto_execute"`
	IsPaused          bool               `json:"is_paused"`
	IsApproved        bool               `json:"is_approved"`
	ApprovalSignature string             `json:"approval_signature,omitempty"`
	NextPaymentAt     *time.Time         `json:"next_payment_at"`
	LastPaymentAt     *time.Time         `json:"last_payment_at,omitempty"`
	PaymentsCompleted int                `json:"payments_completed"`
	// TotalPayments is nil when the schedule is unbounded.
	TotalPayments *int           `json:"total_payments"`
	InFlight      *BatchProgress `json:"in_flight,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// BatchTotal sums the recipient amounts of one run.
func (s *PayrollSchedule) BatchTotal() decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.Recipients {
		total = total.Add(r.Amount)
	}
	return total
}

// IsCompleted is derived: the payment budget is spent, the end date has
// passed, or there is no next occurrence left.
func (s *PayrollSchedule) IsCompleted(now time.Time) bool {
	if s.PaymentCountLimit != nil && s.PaymentsCompleted >= *s.PaymentCountLimit {
		return true
	}
	if s.TotalPayments != nil && s.PaymentsCompleted >= *s.TotalPayments {
		return true
	}
	if s.EndDate != nil && now.After(*s.EndDate) {
		return true
	}
	return s.NextPaymentAt == nil && s.InFlight == nil
}

// AutoRunnable reports whether the tick may execute the schedule unattended.
func (s *PayrollSchedule) AutoRunnable() bool {
	return s.AutoExecute && s.IsApproved && !s.IsPaused
}

// ScheduleSpec is the owner's input for creating or editing a schedule.
type ScheduleSpec struct {
	Name               string             `json:"name" validate:"required,max=100"`
	Frequency          Frequency          `json:"frequency" validate:"required"`
	CustomIntervalDays int                `json:"custom_interval_days"`
	SpecificDate       *time.Time         `json:"specific_date"`
	StartDate          time.Time          `json:"start_date"`
	EndDate            *time.Time         `json:"end_date"`
	PaymentCountLimit  *int               `json:"payment_count_limit"`
	Recipients         []PayrollRecipient `json:"recipients" validate:"required,min=1,dive"`
	AutoExecute        bool               `json:"auto_execute"`
	ApprovalSignature  string             `json:"approval_signature"`
}

// ScheduleFailure records why one schedule failed during a tick.
type ScheduleFailure struct {
	ScheduleID string `json:"schedule_id"`
	Owner      string `json:"owner"`
	FailedAt   int    `json:"failed_at"`
	Error      string `json:"error"`
}

// TickReport summarises one evaluation pass over all schedules.
type TickReport struct {
	At        time.Time         `json:"at"`
	Evaluated int               `json:"evaluated"`
	Executed  int               `json:"executed"`
	Skipped   int               `json:"skipped"`
	Failures  []ScheduleFailure `json:"failures"`
}
