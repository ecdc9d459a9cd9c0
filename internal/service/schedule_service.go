package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/ledger"
	"github.com/segyhp/vault-engine/internal/repository"
	customError "github.com/segyhp/vault-engine/pkg/errors"
	"github.com/segyhp/vault-engine/pkg/utils"
)

// Catch-up policies for schedules executed after their due time.
const (
	CatchUpSkip = "skip"
	CatchUpAll  = "all"
)

// ScheduleEngine owns payroll schedules and executes the due ones.
type ScheduleEngine struct {
	Repo     repository.ScheduleRepository
	ledger   ledger.Ledger
	gate     *BalanceGate
	executor *DisbursementExecutor
	signer   ledger.Signer
	activity *ActivityBus
	catchUp  string
	logger   *zap.Logger
	now      func() time.Time
	locks    keyedMutex
}

// NewScheduleEngine wires the engine. signer is asked for an approval when a
// request carries no signature of its own; it may be nil.
func NewScheduleEngine(
	repo repository.ScheduleRepository,
	l ledger.Ledger,
	executor *DisbursementExecutor,
	signer ledger.Signer,
	activity *ActivityBus,
	catchUp string,
	logger *zap.Logger,
) *ScheduleEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if catchUp == "" {
		catchUp = CatchUpSkip
	}
	return &ScheduleEngine{
		Repo:     repo,
		ledger:   l,
		gate:     NewBalanceGate(l),
		executor: executor,
		signer:   signer,
		activity: activity,
		catchUp:  catchUp,
		logger:   logger,
		now:      time.Now,
	}
}

// Create validates spec and stores a new schedule. If auto execution is
// requested and the owner declines to sign, the schedule is still stored,
// paused and manual, and the returned error is APPROVAL_DECLINED.
func (e *ScheduleEngine) Create(ctx context.Context, owner string, spec *domain.ScheduleSpec) (*domain.PayrollSchedule, error) {
	if !ledger.ValidAddress(owner) {
		return nil, customError.WrapValidation("invalid owner address %q", owner)
	}
	now := e.now()

	s := &domain.PayrollSchedule{
		OwnerAccount: ledger.NormalizeAddress(owner),
		CreatedAt:    now,
	}
	if err := e.apply(s, spec, now); err != nil {
		return nil, err
	}

	var declined error
	if spec.AutoExecute {
		declined = e.approve(ctx, s, spec.ApprovalSignature)
	}

	if err := e.Repo.Create(ctx, s); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	e.logger.Info("payroll schedule created",
		zap.String("schedule_id", s.ID),
		zap.String("owner", s.OwnerAccount),
		zap.String("frequency", string(s.Frequency)),
		zap.Bool("approved", s.IsApproved))

	if declined != nil {
		return s, declined
	}
	return s, nil
}

// Update replaces the editable fields of a schedule. An existing approval is
// kept while the recipients and per-payment total stay the same.
func (e *ScheduleEngine) Update(ctx context.Context, owner, id string, spec *domain.ScheduleSpec) (*domain.PayrollSchedule, error) {
	owner = ledger.NormalizeAddress(owner)
	unlock := e.locks.Lock(owner + "/" + id)
	defer unlock()

	s, err := e.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if s.InFlight != nil {
		return nil, customError.WrapInvalidState("schedule", id, "in-flight", "update")
	}

	prevRecipients := s.Recipients
	prevTotal := s.BatchTotal()
	now := e.now()
	if err := e.apply(s, spec, now); err != nil {
		return nil, err
	}
	if s.PaymentCountLimit != nil && s.PaymentsCompleted > *s.PaymentCountLimit {
		return nil, customError.WrapValidation("payment count limit %d is below the %d payments already made", *s.PaymentCountLimit, s.PaymentsCompleted)
	}

	unchanged := s.IsApproved && sameRecipients(prevRecipients, s.Recipients) && prevTotal.Equal(s.BatchTotal())
	var declined error
	switch {
	case !spec.AutoExecute:
		s.AutoExecute = false
	case unchanged:
		s.AutoExecute = true
	default:
		s.IsApproved = false
		s.ApprovalSignature = ""
		declined = e.approve(ctx, s, spec.ApprovalSignature)
	}

	if err := e.Repo.Save(ctx, s); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	if declined != nil {
		return s, declined
	}
	return s, nil
}

func (e *ScheduleEngine) Get(ctx context.Context, owner, id string) (*domain.PayrollSchedule, error) {
	s, err := e.Repo.GetByID(ctx, ledger.NormalizeAddress(owner), id)
	if err != nil {
		return nil, mapStoreError("schedule", id, err)
	}
	return s, nil
}

func (e *ScheduleEngine) List(ctx context.Context, owner string) ([]*domain.PayrollSchedule, error) {
	schedules, err := e.Repo.ListByOwner(ctx, ledger.NormalizeAddress(owner))
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return schedules, nil
}

func (e *ScheduleEngine) Pause(ctx context.Context, owner, id string) (*domain.PayrollSchedule, error) {
	return e.setPaused(ctx, owner, id, true)
}

func (e *ScheduleEngine) Resume(ctx context.Context, owner, id string) (*domain.PayrollSchedule, error) {
	return e.setPaused(ctx, owner, id, false)
}

// Delete removes the schedule. Anything due but not yet executed is dropped.
func (e *ScheduleEngine) Delete(ctx context.Context, owner, id string) error {
	owner = ledger.NormalizeAddress(owner)
	unlock := e.locks.Lock(owner + "/" + id)
	defer unlock()

	if _, err := e.Get(ctx, owner, id); err != nil {
		return err
	}
	if err := e.Repo.Delete(ctx, owner, id); err != nil {
		return customError.WrapDatabaseError(err)
	}
	e.logger.Info("payroll schedule deleted", zap.String("schedule_id", id), zap.String("owner", owner))
	return nil
}

// ExecuteNow runs one payment of the schedule regardless of its auto
// execution settings. Paused and completed schedules are refused.
func (e *ScheduleEngine) ExecuteNow(ctx context.Context, owner, id string) (*domain.PayrollSchedule, error) {
	owner = ledger.NormalizeAddress(owner)
	unlock := e.locks.Lock(owner + "/" + id)
	defer unlock()

	s, err := e.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if s.IsPaused {
		return nil, customError.WrapSchedulePaused(id)
	}
	if s.IsCompleted(now) {
		return nil, customError.WrapScheduleCompleted(id)
	}
	if err := e.run(ctx, s, now); err != nil {
		return s, err
	}
	return s, nil
}

// Tick evaluates every schedule once. A failing schedule is reported and
// does not stop the others.
func (e *ScheduleEngine) Tick(ctx context.Context, now time.Time) (domain.TickReport, error) {
	report := domain.TickReport{At: now, Failures: []domain.ScheduleFailure{}}

	schedules, err := e.Repo.ListAll(ctx)
	if err != nil {
		return report, customError.WrapDatabaseError(err)
	}

	for _, s := range schedules {
		report.Evaluated++
		if !e.due(s, now) {
			report.Skipped++
			continue
		}

		err := e.runLocked(ctx, s.OwnerAccount, s.ID, now)
		switch {
		case err == nil:
			report.Executed++
		case errors.Is(err, errSkipped):
			report.Skipped++
		default:
			f := domain.ScheduleFailure{ScheduleID: s.ID, Owner: s.OwnerAccount, FailedAt: -1, Error: err.Error()}
			var be *batchError
			if errors.As(err, &be) {
				f.FailedAt = be.failedAt
			}
			report.Failures = append(report.Failures, f)
		}
	}

	e.logger.Info("schedule tick finished",
		zap.Time("at", now),
		zap.Int("evaluated", report.Evaluated),
		zap.Int("executed", report.Executed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}

var errSkipped = errors.New("schedule no longer due")

// batchError carries the failing recipient index of a payroll run.
type batchError struct {
	failedAt int
	err      error
}

func (b *batchError) Error() string {
	return fmt.Sprintf("payroll batch failed at recipient %d: %v", b.failedAt, b.err)
}

func (b *batchError) Unwrap() error { return b.err }

// runLocked re-reads the schedule under its lock so a concurrent manual
// execution is not repeated by the tick.
func (e *ScheduleEngine) runLocked(ctx context.Context, owner, id string, now time.Time) error {
	unlock := e.locks.Lock(owner + "/" + id)
	defer unlock()

	s, err := e.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if !e.due(s, now) {
		return errSkipped
	}
	return e.run(ctx, s, now)
}

func (e *ScheduleEngine) due(s *domain.PayrollSchedule, now time.Time) bool {
	if !s.AutoRunnable() || s.IsCompleted(now) {
		return false
	}
	if s.InFlight != nil {
		return true
	}
	return s.NextPaymentAt != nil && !s.NextPaymentAt.After(now)
}

// run executes one payment of s, resuming an interrupted run if there is
// one. Progress is persisted after every transfer.
func (e *ScheduleEngine) run(ctx context.Context, s *domain.PayrollSchedule, now time.Time) error {
	log := e.logger.With(zap.String("schedule_id", s.ID), zap.String("owner", s.OwnerAccount))

	start := 0
	if s.InFlight != nil {
		start = s.InFlight.Completed
	}
	remaining := decimal.Zero
	for _, r := range s.Recipients[min(start, len(s.Recipients)):] {
		remaining = remaining.Add(r.Amount)
	}
	if err := e.gate.Check(ctx, s.OwnerAccount, remaining); err != nil {
		log.Warn("payroll run blocked by balance gate", zap.Error(err))
		return err
	}

	if s.InFlight == nil {
		s.InFlight = &domain.BatchProgress{
			RunRef:    ledger.NewRef("payroll", s.ID, strconv.Itoa(s.PaymentsCompleted)),
			StartedAt: now,
		}
		if err := e.Repo.Update(ctx, s.OwnerAccount, s.ID, map[string]any{"in_flight": s.InFlight}); err != nil {
			return customError.WrapDatabaseError(err)
		}
	} else {
		log.Info("resuming interrupted payroll run", zap.String("run_ref", s.InFlight.RunRef), zap.Int("completed", start))
	}

	transfers := make([]domain.Transfer, len(s.Recipients))
	for i, r := range s.Recipients {
		transfers[i] = domain.Transfer{
			To:     ledger.NormalizeAddress(r.Wallet),
			Amount: r.Amount,
			Memo:   s.Name + ": " + r.Label,
			Ref:    ledger.NewRef(s.InFlight.RunRef, strconv.Itoa(i)),
		}
	}

	progress := func(ctx context.Context, completed int) error {
		s.InFlight.Completed = completed
		return e.Repo.Update(ctx, s.OwnerAccount, s.ID, map[string]any{"in_flight": s.InFlight})
	}
	res := e.executor.ExecuteBatch(ctx, s.OwnerAccount, transfers, start, progress)
	if len(res.Succeeded) > 0 {
		e.activity.Publish(ctx, domain.ActivityEvent{Account: s.OwnerAccount, Action: "payroll", At: now})
	}

	if res.Err != nil {
		failedAt := len(transfers)
		if res.FailedAt != nil {
			failedAt = *res.FailedAt
		}
		s.InFlight.LastError = res.Err.Error()
		if err := e.Repo.Update(ctx, s.OwnerAccount, s.ID, map[string]any{"in_flight": s.InFlight}); err != nil {
			log.Error("could not record payroll failure", zap.Error(err))
		}
		log.Warn("payroll run stopped",
			zap.Int("failed_at", failedAt),
			zap.Int("completed", s.InFlight.Completed),
			zap.Error(res.Err))
		return &batchError{failedAt: failedAt, err: res.Err}
	}

	s.PaymentsCompleted++
	s.LastPaymentAt = &now
	s.NextPaymentAt = e.advance(s, now)
	s.InFlight = nil
	s.UpdatedAt = now
	if err := e.Repo.Save(ctx, s); err != nil {
		log.Error("payroll paid but schedule not advanced", zap.Error(err))
		return customError.WrapDatabaseError(err)
	}

	log.Info("payroll run completed",
		zap.Int("payments_completed", s.PaymentsCompleted),
		zap.String("total", s.BatchTotal().String()))
	return nil
}

// advance picks the next payment time after a run at now. It never returns a
// time at or before the previous next payment.
func (e *ScheduleEngine) advance(s *domain.PayrollSchedule, now time.Time) *time.Time {
	if s.Frequency == domain.FrequencySpecificDate {
		return nil
	}
	prev := now
	if s.NextPaymentAt != nil {
		prev = *s.NextPaymentAt
	}

	var next time.Time
	if e.catchUp == CatchUpAll {
		next = utils.Advance(s.Recurrence, prev, 1)
	} else {
		next = utils.Advance(s.Recurrence, now, 1)
	}
	if !next.After(prev) {
		next = utils.Advance(s.Recurrence, prev, 1)
	}
	return &next
}

func (e *ScheduleEngine) setPaused(ctx context.Context, owner, id string, paused bool) (*domain.PayrollSchedule, error) {
	owner = ledger.NormalizeAddress(owner)
	unlock := e.locks.Lock(owner + "/" + id)
	defer unlock()

	s, err := e.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	s.IsPaused = paused
	s.UpdatedAt = now
	if err := e.Repo.Update(ctx, owner, id, map[string]any{"is_paused": paused, "updated_at": now}); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return s, nil
}

// approve asks the owner to sign the approval message. On refusal the
// schedule is downgraded to paused and manual.
func (e *ScheduleEngine) approve(ctx context.Context, s *domain.PayrollSchedule, provided string) error {
	var signer ledger.Signer = ledger.StaticSigner(provided)
	if provided == "" && e.signer != nil {
		signer = e.signer
	}

	sig, err := signer.Sign(ctx, s.OwnerAccount, ApprovalMessage(s))
	if err != nil {
		s.AutoExecute = false
		s.IsPaused = true
		s.IsApproved = false
		e.logger.Warn("payroll approval declined, schedule paused",
			zap.String("owner", s.OwnerAccount),
			zap.String("name", s.Name),
			zap.Error(err))
		return customError.WrapApprovalDeclined(s.Name, err)
	}
	s.AutoExecute = true
	s.IsApproved = true
	s.ApprovalSignature = sig
	return nil
}

// ApprovalMessage is the text the owner signs to allow unattended runs.
func ApprovalMessage(s *domain.PayrollSchedule) string {
	return fmt.Sprintf(
		"Approve automatic payroll %q\nRecipients: %d\nTotal per payment: %s\nFrequency: %s",
		s.Name, len(s.Recipients), s.BatchTotal().String(), utils.FrequencyLabel(s.Recurrence))
}

// apply validates spec and copies it onto s, recomputing the first payment
// and the payment budget.
func (e *ScheduleEngine) apply(s *domain.PayrollSchedule, spec *domain.ScheduleSpec, now time.Time) error {
	if spec.Name == "" {
		return customError.WrapValidation("schedule name is required")
	}
	if len(spec.Recipients) == 0 {
		return customError.WrapValidation("at least one recipient is required")
	}
	recipients := make([]domain.PayrollRecipient, len(spec.Recipients))
	for i, r := range spec.Recipients {
		if !ledger.ValidAddress(r.Wallet) {
			return customError.WrapValidation("recipient %d has an invalid wallet %q", i, r.Wallet)
		}
		if !r.Amount.IsPositive() {
			return customError.WrapValidation("recipient %d amount must be positive", i)
		}
		if ledger.SameAddress(r.Wallet, s.OwnerAccount) {
			return customError.WrapValidation("recipient %d is the schedule owner", i)
		}
		recipients[i] = domain.PayrollRecipient{Wallet: ledger.NormalizeAddress(r.Wallet), Amount: r.Amount, Label: r.Label}
	}

	rec := domain.Recurrence{
		Frequency:          spec.Frequency,
		CustomIntervalDays: spec.CustomIntervalDays,
		SpecificDate:       spec.SpecificDate,
	}
	if err := utils.ValidateRecurrence(rec); err != nil {
		return customError.WrapValidation("%v", err)
	}
	if spec.EndDate != nil && spec.PaymentCountLimit != nil {
		return customError.WrapValidation("set either an end date or a payment count limit, not both")
	}
	if spec.PaymentCountLimit != nil && *spec.PaymentCountLimit < 1 {
		return customError.WrapValidation("payment count limit must be at least 1")
	}

	start := spec.StartDate
	if start.IsZero() {
		start = s.StartDate
	}
	if start.IsZero() {
		start = now
	}

	var next time.Time
	if rec.Frequency == domain.FrequencySpecificDate {
		if !rec.SpecificDate.After(now) {
			return customError.WrapValidation("specific date must be in the future")
		}
		next = *rec.SpecificDate
		start = next
	} else if start.Before(now) {
		n, _, err := utils.NextOccurrence(rec, start, now)
		if err != nil {
			return customError.WrapValidation("%v", err)
		}
		next = n
	} else {
		next = start
	}
	if s.NextPaymentAt != nil && rec.Frequency != domain.FrequencySpecificDate {
		n, err := keepCadence(s, rec, start, next, !spec.StartDate.IsZero())
		if err != nil {
			return customError.WrapValidation("%v", err)
		}
		next = n
	}

	var total *int
	switch {
	case rec.Frequency == domain.FrequencySpecificDate:
		one := 1
		total = &one
	case spec.PaymentCountLimit != nil:
		n := *spec.PaymentCountLimit
		total = &n
	case spec.EndDate != nil:
		n, err := utils.CountOccurrences(rec, next, *spec.EndDate)
		if err != nil {
			return customError.WrapValidation("%v", err)
		}
		if n == 0 {
			return customError.WrapValidation("end date is before the first payment")
		}
		n += s.PaymentsCompleted
		total = &n
	}

	s.Name = spec.Name
	s.Recurrence = rec
	s.StartDate = start
	s.EndDate = spec.EndDate
	s.PaymentCountLimit = spec.PaymentCountLimit
	s.Recipients = recipients
	s.NextPaymentAt = &next
	s.TotalPayments = total
	s.UpdatedAt = now
	return nil
}

// keepCadence stops an edit from pulling an existing schedule's next payment
// backwards. Unchanged timing keeps the stored occurrence; otherwise the new
// one lands after the stored one and at least one step after the last run.
func keepCadence(s *domain.PayrollSchedule, rec domain.Recurrence, start, next time.Time, startGiven bool) (time.Time, error) {
	prev := *s.NextPaymentAt
	sameStart := !startGiven || start.Equal(s.StartDate)
	if sameStart && sameRecurrence(s.Recurrence, rec) {
		return prev, nil
	}

	if s.LastPaymentAt != nil {
		floor := utils.Advance(rec, *s.LastPaymentAt, 1)
		if next.Before(floor) {
			n, _, err := utils.NextOccurrence(rec, start, floor.Add(-time.Nanosecond))
			if err != nil {
				return time.Time{}, err
			}
			next = n
		}
	}
	if !next.After(prev) {
		n, _, err := utils.NextOccurrence(rec, start, prev)
		if err != nil {
			return time.Time{}, err
		}
		next = n
	}
	return next, nil
}

func sameRecurrence(a, b domain.Recurrence) bool {
	if a.Frequency != b.Frequency {
		return false
	}
	return a.Frequency != domain.FrequencyCustom || a.CustomIntervalDays == b.CustomIntervalDays
}

func sameRecipients(a, b []domain.PayrollRecipient) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ledger.SameAddress(a[i].Wallet, b[i].Wallet) || !a[i].Amount.Equal(b[i].Amount) {
			return false
		}
	}
	return true
}
