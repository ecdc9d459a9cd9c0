package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/vault-engine/internal/config"
	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/ledger"
	"github.com/segyhp/vault-engine/internal/repository"
	"github.com/segyhp/vault-engine/internal/store/memory"
)

const (
	lender   = "0x1111111111111111111111111111111111111111"
	borrower = "0x2222222222222222222222222222222222222222"
	owner    = "0x3333333333333333333333333333333333333333"
	alice    = "0x4444444444444444444444444444444444444444"
	bob      = "0x5555555555555555555555555555555555555555"
	carol    = "0x6666666666666666666666666666666666666666"
)

var t0 = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testBusiness = config.BusinessConfig{
	DefaultInactivityPeriod: 30 * 24 * time.Hour,
	MinInactivityPeriod:     time.Hour,
	LoanDueSoonDays:         3,
	EnforceSingleActiveLoan: true,
}

// env is a fully wired service graph on the in-memory store and ledger.
type env struct {
	clock    *clock
	ledger   *ledger.Memory
	bus      *ActivityBus
	executor *DisbursementExecutor
	loans    *LoanService
	engine   *ScheduleEngine
	nominees *InactivityClaimGate
	vault    *VaultService
	events   []domain.ActivityEvent
	seeds    int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New()
	e := &env{clock: &clock{now: t0}, ledger: ledger.NewMemory(), bus: NewActivityBus()}
	e.ledger.SetClock(e.clock.Now)
	e.executor = NewDisbursementExecutor(e.ledger, 0, nil)

	e.loans = NewLoanService(
		repository.NewOfferRepository(st),
		repository.NewLoanRequestRepository(st),
		repository.NewLoanRepository(st),
		e.ledger, e.executor, e.bus, testBusiness, nil)
	e.loans.now = e.clock.Now

	e.engine = NewScheduleEngine(repository.NewScheduleRepository(st), e.ledger, e.executor, nil, e.bus, CatchUpSkip, nil)
	e.engine.now = e.clock.Now

	e.nominees = NewInactivityClaimGate(repository.NewNomineeRepository(st), e.ledger, e.executor, testBusiness, nil)
	e.nominees.now = e.clock.Now
	e.nominees.Listen(e.bus)

	e.vault = NewVaultService(e.ledger, e.executor, e.bus, nil)
	e.vault.now = e.clock.Now

	e.bus.Subscribe(func(_ context.Context, ev domain.ActivityEvent) { e.events = append(e.events, ev) })
	return e
}

func (e *env) fund(t *testing.T, account, amount string) {
	t.Helper()
	e.seeds++
	_, err := e.ledger.Deposit(context.Background(), account, dec(amount), ledger.NewRef("seed", strconv.Itoa(e.seeds)))
	require.NoError(t, err)
}

func (e *env) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	b, err := e.ledger.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b
}
