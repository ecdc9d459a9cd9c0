package service

import (
	"context"
	"errors"
	"strconv"
	"time"

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

// InactivityClaimGate keeps each owner's nominee configuration and releases
// nominee shares once the owner has been idle for the configured window.
type InactivityClaimGate struct {
	Repo          repository.NomineeRepository
	ledger        ledger.Ledger
	gate          *BalanceGate
	executor      *DisbursementExecutor
	defaultPeriod time.Duration
	minPeriod     time.Duration
	logger        *zap.Logger
	now           func() time.Time
	locks         keyedMutex
}

func NewInactivityClaimGate(
	repo repository.NomineeRepository,
	l ledger.Ledger,
	executor *DisbursementExecutor,
	cfg config.BusinessConfig,
	logger *zap.Logger,
) *InactivityClaimGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InactivityClaimGate{
		Repo:          repo,
		ledger:        l,
		gate:          NewBalanceGate(l),
		executor:      executor,
		defaultPeriod: cfg.DefaultInactivityPeriod,
		minPeriod:     cfg.MinInactivityPeriod,
		logger:        logger,
		now:           time.Now,
	}
}

// Listen subscribes the gate to owner activity.
func (g *InactivityClaimGate) Listen(bus *ActivityBus) {
	bus.Subscribe(func(ctx context.Context, ev domain.ActivityEvent) {
		if err := g.RecordActivity(ctx, ev.Account); err != nil {
			g.logger.Warn("could not record owner activity",
				zap.String("owner", ev.Account),
				zap.String("action", ev.Action),
				zap.Error(err))
		}
	})
}

// Configure replaces the owner's nominees. Any earlier claim history is
// cleared along with the previous configuration.
func (g *InactivityClaimGate) Configure(ctx context.Context, owner string, req *domain.ConfigureNomineesRequest) (*domain.NomineeConfig, error) {
	if !ledger.ValidAddress(owner) {
		return nil, customError.WrapValidation("invalid owner address %q", owner)
	}
	owner = ledger.NormalizeAddress(owner)
	shares, err := validateShares(owner, req.Nominees)
	if err != nil {
		return nil, err
	}

	unlock := g.locks.Lock(owner)
	defer unlock()

	period := g.defaultPeriod
	existing, err := g.Repo.Get(ctx, owner)
	switch {
	case err == nil:
		period = existing.InactivityPeriod()
	case !errors.Is(err, store.ErrNotFound):
		return nil, customError.WrapDatabaseError(err)
	}

	now := g.now()
	cfg := &domain.NomineeConfig{
		OwnerAccount:            owner,
		NomineeShares:           shares,
		EncryptedPayload:        req.EncryptedPayload,
		LastActivityAt:          now,
		InactivityPeriodSeconds: int64(period / time.Second),
		ClaimedIndices:          []int{},
		UpdatedAt:               now,
	}
	if err := g.Repo.Save(ctx, cfg); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	g.logger.Info("nominees configured", zap.String("owner", owner), zap.Int("nominees", len(shares)))
	return cfg, nil
}

func (g *InactivityClaimGate) Get(ctx context.Context, owner string) (*domain.NomineeConfig, error) {
	owner = ledger.NormalizeAddress(owner)
	cfg, err := g.Repo.Get(ctx, owner)
	if err != nil {
		return nil, mapStoreError("nominee config", owner, err)
	}
	return cfg, nil
}

// Remove deletes the owner's configuration.
func (g *InactivityClaimGate) Remove(ctx context.Context, owner string) error {
	owner = ledger.NormalizeAddress(owner)
	unlock := g.locks.Lock(owner)
	defer unlock()

	if _, err := g.Get(ctx, owner); err != nil {
		return err
	}
	if err := g.Repo.Delete(ctx, owner); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

// RecordActivity marks the owner alive now. Owners without a configuration
// are ignored. A balance snapshot taken during inactivity is discarded.
func (g *InactivityClaimGate) RecordActivity(ctx context.Context, owner string) error {
	owner = ledger.NormalizeAddress(owner)
	unlock := g.locks.Lock(owner)
	defer unlock()

	now := g.now()
	err := g.Repo.Update(ctx, owner, map[string]any{
		"last_activity_at": now,
		"balance_snapshot": nil,
		"snapshot_at":      nil,
		"updated_at":       now,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

func (g *InactivityClaimGate) IsInactive(ctx context.Context, owner string, now time.Time) (bool, error) {
	cfg, err := g.Get(ctx, owner)
	if err != nil {
		return false, err
	}
	return cfg.IsInactive(now), nil
}

// SetInactivityPeriod changes the window. Doing so counts as activity.
func (g *InactivityClaimGate) SetInactivityPeriod(ctx context.Context, owner string, period time.Duration) (*domain.NomineeConfig, error) {
	if period < g.minPeriod {
		return nil, customError.WrapValidation("inactivity period must be at least %s", g.minPeriod)
	}
	owner = ledger.NormalizeAddress(owner)
	unlock := g.locks.Lock(owner)
	defer unlock()

	cfg, err := g.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	now := g.now()
	cfg.InactivityPeriodSeconds = int64(period / time.Second)
	cfg.LastActivityAt = now
	cfg.BalanceSnapshot = nil
	cfg.SnapshotAt = nil
	cfg.UpdatedAt = now
	if err := g.Repo.Save(ctx, cfg); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	return cfg, nil
}

// Status is the nominee-facing view of the owner's liveness.
func (g *InactivityClaimGate) Status(ctx context.Context, owner string, now time.Time) (*domain.InactivityStatus, error) {
	cfg, err := g.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	until := cfg.LastActivityAt.Add(cfg.InactivityPeriod()).Sub(now)
	if until < 0 {
		until = 0
	}
	return &domain.InactivityStatus{
		Owner:             cfg.OwnerAccount,
		IsInactive:        cfg.IsInactive(now),
		LastActivityAt:    cfg.LastActivityAt,
		InactivityPeriod:  cfg.InactivityPeriod().String(),
		TimeUntilInactive: until.String(),
		DaysUntilInactive: max(0, utils.DaysRemaining(cfg.LastActivityAt.Add(cfg.InactivityPeriod()), now)),
		ClaimedIndices:    cfg.ClaimedIndices,
	}, nil
}

// ShareOf describes nominee slot index and what it would pay out now.
func (g *InactivityClaimGate) ShareOf(ctx context.Context, owner string, index int) (*domain.NomineeShareView, error) {
	cfg, err := g.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(cfg.NomineeShares) {
		return nil, customError.WrapNotFound("nominee", strconv.Itoa(index))
	}

	base := decimal.Zero
	if cfg.BalanceSnapshot != nil {
		base = *cfg.BalanceSnapshot
	} else {
		base, err = g.ledger.BalanceOf(ctx, cfg.OwnerAccount)
		if err != nil {
			return nil, customError.WrapLedgerFailure("balanceOf", "", ledger.IsTimeout(err), err)
		}
	}

	share := cfg.NomineeShares[index]
	return &domain.NomineeShareView{
		Index:           index,
		Address:         share.Address,
		SharePct:        share.SharePct,
		Claimed:         cfg.IsClaimed(index),
		ProjectedAmount: utils.CalculateShare(base, share.SharePct),
	}, nil
}

// Claim pays nominee index its share of the balance snapshot taken when the
// owner's inactivity was first confirmed. The index is recorded as claimed
// before the transfer, so a claim is paid at most once even across crashes.
// A definite ledger rejection releases the index again; an ambiguous one
// keeps it reserved.
func (g *InactivityClaimGate) Claim(ctx context.Context, owner string, index int, claimant string) (*domain.Receipt, error) {
	owner = ledger.NormalizeAddress(owner)
	claimant = ledger.NormalizeAddress(claimant)

	unlock := g.locks.Lock(owner)
	defer unlock()

	cfg, err := g.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	now := g.now()
	if !cfg.IsInactive(now) {
		return nil, customError.WrapNotInactive(owner)
	}
	if index < 0 || index >= len(cfg.NomineeShares) {
		return nil, customError.WrapNotFound("nominee", strconv.Itoa(index))
	}
	if cfg.IsClaimed(index) {
		return nil, customError.WrapAlreadyClaimed(owner, index)
	}
	share := cfg.NomineeShares[index]
	if !ledger.SameAddress(share.Address, claimant) {
		return nil, customError.WrapNotNominee(claimant, index)
	}

	if cfg.BalanceSnapshot == nil {
		balance, err := g.ledger.BalanceOf(ctx, owner)
		if err != nil {
			return nil, customError.WrapLedgerFailure("balanceOf", "", ledger.IsTimeout(err), err)
		}
		cfg.BalanceSnapshot = &balance
		cfg.SnapshotAt = &now
		if err := g.Repo.Update(ctx, owner, map[string]any{"balance_snapshot": balance, "snapshot_at": now}); err != nil {
			return nil, customError.WrapDatabaseError(err)
		}
		g.logger.Info("inactivity confirmed, balance snapshot taken",
			zap.String("owner", owner),
			zap.String("balance", balance.String()))
	}

	amount := utils.CalculateShare(*cfg.BalanceSnapshot, share.SharePct)
	if !amount.IsPositive() {
		return nil, customError.WrapValidation("nothing to claim for nominee %d", index)
	}
	if err := g.gate.Check(ctx, owner, amount); err != nil {
		return nil, err
	}

	claimed := append(append([]int{}, cfg.ClaimedIndices...), index)
	if err := g.Repo.Update(ctx, owner, map[string]any{"claimed_indices": claimed}); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	ref := ledger.NewRef("claim", owner, strconv.Itoa(index), strconv.FormatInt(cfg.SnapshotAt.Unix(), 10))
	log := g.logger.With(zap.String("owner", owner), zap.Int("index", index), zap.String("ref", ref))

	receipt, err := g.executor.Execute(ctx, owner, domain.Transfer{
		To:     claimant,
		Amount: amount,
		Memo:   "nominee claim",
		Ref:    ref,
	})
	if err != nil {
		if customError.IsAmbiguous(err) {
			log.Warn("nominee claim outcome unknown, index stays claimed", zap.Error(err))
			return nil, err
		}
		if uerr := g.Repo.Update(ctx, owner, map[string]any{"claimed_indices": cfg.ClaimedIndices}); uerr != nil {
			log.Error("could not release claim after ledger failure", zap.Error(uerr))
		}
		log.Warn("nominee claim failed", zap.Error(err))
		return nil, err
	}

	log.Info("nominee claim paid", zap.String("amount", amount.String()))
	return receipt, nil
}

func validateShares(owner string, nominees []domain.NomineeShare) ([]domain.NomineeShare, error) {
	if len(nominees) == 0 {
		return nil, customError.WrapValidation("at least one nominee is required")
	}
	seen := make(map[string]bool, len(nominees))
	shares := make([]domain.NomineeShare, len(nominees))
	sum := 0
	for i, n := range nominees {
		if !ledger.ValidAddress(n.Address) {
			return nil, customError.WrapValidation("nominee %d has an invalid address %q", i, n.Address)
		}
		addr := ledger.NormalizeAddress(n.Address)
		if addr == owner {
			return nil, customError.WrapValidation("owner cannot nominate themselves")
		}
		if seen[addr] {
			return nil, customError.WrapValidation("nominee %s appears more than once", addr)
		}
		if n.SharePct < 1 || n.SharePct > 100 {
			return nil, customError.WrapValidation("nominee %d share must be between 1 and 100", i)
		}
		seen[addr] = true
		sum += n.SharePct
		shares[i] = domain.NomineeShare{Address: addr, SharePct: n.SharePct}
	}
	if sum != 100 {
		return nil, customError.WrapValidation("nominee shares must sum to 100, got %d", sum)
	}
	return shares, nil
}
