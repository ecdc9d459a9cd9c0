package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/mocks"
	"github.com/segyhp/vault-engine/internal/store"
	customError "github.com/segyhp/vault-engine/pkg/errors"
)

var idle = t0.Add(31 * 24 * time.Hour)

func (e *env) nominate(t *testing.T, shares ...domain.NomineeShare) *domain.NomineeConfig {
	t.Helper()
	cfg, err := e.nominees.Configure(context.Background(), owner, &domain.ConfigureNomineesRequest{Nominees: shares})
	require.NoError(t, err)
	return cfg
}

func share(addr string, pct int) domain.NomineeShare {
	return domain.NomineeShare{Address: addr, SharePct: pct}
}

func TestInactivityClaimGate_ConfigureValidation(t *testing.T) {
	tests := []struct {
		name   string
		shares []domain.NomineeShare
	}{
		{"no nominees", nil},
		{"shares under 100", []domain.NomineeShare{share(alice, 60), share(bob, 30)}},
		{"shares over 100", []domain.NomineeShare{share(alice, 60), share(bob, 50)}},
		{"zero share", []domain.NomineeShare{share(alice, 100), share(bob, 0)}},
		{"duplicate nominee", []domain.NomineeShare{share(alice, 50), share(alice, 50)}},
		{"owner nominates self", []domain.NomineeShare{share(owner, 100)}},
		{"invalid address", []domain.NomineeShare{share("0xnope", 100)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.nominees.Configure(context.Background(), owner, &domain.ConfigureNomineesRequest{Nominees: tt.shares})
			assert.ErrorIs(t, err, customError.ErrValidation)
		})
	}
}

func TestInactivityClaimGate_ClaimFlow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, owner, "10")
	cfg := e.nominate(t, share(alice, 60), share(bob, 40))
	assert.Equal(t, t0, cfg.LastActivityAt)
	assert.Equal(t, testBusiness.DefaultInactivityPeriod, cfg.InactivityPeriod())

	e.clock.Set(t0.Add(24 * time.Hour))
	_, err := e.nominees.Claim(ctx, owner, 0, alice)
	assert.ErrorIs(t, err, customError.ErrNotInactive)

	e.clock.Set(idle)
	receipt, err := e.nominees.Claim(ctx, owner, 0, alice)
	require.NoError(t, err)
	assert.True(t, receipt.Amount.Equal(dec("6")))
	assert.True(t, e.balance(t, owner).Equal(dec("4")))

	// the second share is computed from the snapshot, not the reduced balance
	receipt, err = e.nominees.Claim(ctx, owner, 1, bob)
	require.NoError(t, err)
	assert.True(t, receipt.Amount.Equal(dec("4")))
	assert.True(t, e.balance(t, owner).IsZero())
	assert.True(t, e.balance(t, alice).Equal(dec("6")))
	assert.True(t, e.balance(t, bob).Equal(dec("4")))

	_, err = e.nominees.Claim(ctx, owner, 0, alice)
	assert.ErrorIs(t, err, customError.ErrAlreadyClaimed)

	stored, err := e.nominees.Get(ctx, owner)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1}, stored.ClaimedIndices)
	require.NotNil(t, stored.BalanceSnapshot)
	assert.True(t, stored.BalanceSnapshot.Equal(dec("10")))

	assert.Empty(t, e.events, "nominee claims are not owner activity")
}

func TestInactivityClaimGate_ClaimErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		index    int
		claimant string
		wantErr  error
	}{
		{"wrong claimant", 0, carol, customError.ErrNotNominee},
		{"claimant holds the other slot", 0, bob, customError.ErrNotNominee},
		{"index out of range", 5, alice, customError.ErrNotFound},
		{"negative index", -1, alice, customError.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.fund(t, owner, "10")
			e.nominate(t, share(alice, 60), share(bob, 40))
			e.clock.Set(idle)

			_, err := e.nominees.Claim(ctx, owner, tt.index, tt.claimant)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, e.balance(t, owner).Equal(dec("10")))
		})
	}

	t.Run("no configuration", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.nominees.Claim(ctx, owner, 0, alice)
		assert.ErrorIs(t, err, customError.ErrNotFound)
	})

	t.Run("empty vault", func(t *testing.T) {
		e := newEnv(t)
		e.nominate(t, share(alice, 100))
		e.clock.Set(idle)
		_, err := e.nominees.Claim(ctx, owner, 0, alice)
		assert.ErrorIs(t, err, customError.ErrValidation)
	})
}

func TestInactivityClaimGate_ActivityResetsInactivity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, owner, "10")
	e.nominate(t, share(alice, 100))

	e.clock.Set(idle)
	inactive, err := e.nominees.IsInactive(ctx, owner, idle)
	require.NoError(t, err)
	assert.True(t, inactive)

	_, err = e.vault.Deposit(ctx, owner, dec("1"))
	require.NoError(t, err)

	inactive, err = e.nominees.IsInactive(ctx, owner, idle)
	require.NoError(t, err)
	assert.False(t, inactive)

	_, err = e.nominees.Claim(ctx, owner, 0, alice)
	assert.ErrorIs(t, err, customError.ErrNotInactive)

	cfg, err := e.nominees.Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, idle, cfg.LastActivityAt)
}

func TestInactivityClaimGate_ReactivationDropsSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, owner, "10")
	e.nominate(t, share(alice, 50), share(bob, 50))

	e.clock.Set(idle)
	_, err := e.nominees.Claim(ctx, owner, 0, alice)
	require.NoError(t, err)

	require.NoError(t, e.nominees.RecordActivity(ctx, owner))
	cfg, err := e.nominees.Get(ctx, owner)
	require.NoError(t, err)
	assert.Nil(t, cfg.BalanceSnapshot)
	assert.Equal(t, []int{0}, cfg.ClaimedIndices)

	e.fund(t, owner, "15")
	e.clock.Set(idle.Add(31 * 24 * time.Hour))
	receipt, err := e.nominees.Claim(ctx, owner, 1, bob)
	require.NoError(t, err)
	assert.True(t, receipt.Amount.Equal(dec("10")))

	_, err = e.nominees.Claim(ctx, owner, 0, alice)
	assert.ErrorIs(t, err, customError.ErrAlreadyClaimed)
}

func TestInactivityClaimGate_LedgerFailureReleasesIndex(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, owner, "10")
	e.nominate(t, share(alice, 100))
	e.clock.Set(idle)

	e.ledger.InjectFault(func(op, from, to, ref string) (error, bool) {
		return errors.New("execution reverted"), false
	})
	_, err := e.nominees.Claim(ctx, owner, 0, alice)
	require.Error(t, err)
	assert.False(t, customError.IsAmbiguous(err))

	cfg, err := e.nominees.Get(ctx, owner)
	require.NoError(t, err)
	assert.False(t, cfg.IsClaimed(0))

	e.ledger.InjectFault(nil)
	receipt, err := e.nominees.Claim(ctx, owner, 0, alice)
	require.NoError(t, err)
	assert.True(t, receipt.Amount.Equal(dec("10")))
}

func TestInactivityClaimGate_AmbiguousFailureKeepsIndex(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, owner, "10")
	e.nominate(t, share(alice, 100))
	e.clock.Set(idle)

	e.ledger.InjectFault(func(op, from, to, ref string) (error, bool) {
		return context.DeadlineExceeded, true
	})
	_, err := e.nominees.Claim(ctx, owner, 0, alice)
	require.Error(t, err)
	assert.True(t, customError.IsAmbiguous(err))

	e.ledger.InjectFault(nil)
	_, err = e.nominees.Claim(ctx, owner, 0, alice)
	assert.ErrorIs(t, err, customError.ErrAlreadyClaimed)
	assert.True(t, e.balance(t, alice).Equal(dec("10")), "paid exactly once")
}

func TestInactivityClaimGate_SetInactivityPeriod(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.nominate(t, share(alice, 100))

	_, err := e.nominees.SetInactivityPeriod(ctx, owner, time.Minute)
	assert.ErrorIs(t, err, customError.ErrValidation)

	e.clock.Set(t0.Add(time.Hour))
	cfg, err := e.nominees.SetInactivityPeriod(ctx, owner, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.InactivityPeriod())
	assert.Equal(t, t0.Add(time.Hour), cfg.LastActivityAt)

	inactive, err := e.nominees.IsInactive(ctx, owner, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, inactive)
	inactive, err = e.nominees.IsInactive(ctx, owner, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, inactive)

	// reconfiguring keeps the chosen window
	cfg = e.nominate(t, share(bob, 100))
	assert.Equal(t, 2*time.Hour, cfg.InactivityPeriod())

	_, err = e.nominees.SetInactivityPeriod(ctx, carol, 2*time.Hour)
	assert.ErrorIs(t, err, customError.ErrNotFound)
}

func TestInactivityClaimGate_StatusAndShare(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, owner, "10")
	e.nominate(t, share(alice, 60), share(bob, 40))

	status, err := e.nominees.Status(ctx, owner, t0.Add(10*24*time.Hour))
	require.NoError(t, err)
	assert.False(t, status.IsInactive)
	assert.Equal(t, 20, status.DaysUntilInactive)
	assert.Equal(t, "480h0m0s", status.TimeUntilInactive)

	status, err = e.nominees.Status(ctx, owner, idle)
	require.NoError(t, err)
	assert.True(t, status.IsInactive)
	assert.Equal(t, 0, status.DaysUntilInactive)
	assert.Equal(t, "0s", status.TimeUntilInactive)

	view, err := e.nominees.ShareOf(ctx, owner, 1)
	require.NoError(t, err)
	assert.Equal(t, bob, view.Address)
	assert.Equal(t, 40, view.SharePct)
	assert.False(t, view.Claimed)
	assert.True(t, view.ProjectedAmount.Equal(dec("4")))

	_, err = e.nominees.ShareOf(ctx, owner, 2)
	assert.ErrorIs(t, err, customError.ErrNotFound)
}

func TestInactivityClaimGate_ConfigureClearsClaims(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, owner, "10")
	e.nominate(t, share(alice, 100))
	e.clock.Set(idle)
	_, err := e.nominees.Claim(ctx, owner, 0, alice)
	require.NoError(t, err)

	cfg := e.nominate(t, share(bob, 100))
	assert.Empty(t, cfg.ClaimedIndices)
	assert.Nil(t, cfg.BalanceSnapshot)
	assert.Equal(t, idle, cfg.LastActivityAt)

	require.NoError(t, e.nominees.Remove(ctx, owner))
	_, err = e.nominees.Get(ctx, owner)
	assert.ErrorIs(t, err, customError.ErrNotFound)
}

func TestInactivityClaimGate_Repository(t *testing.T) {
	ctx := context.Background()

	t.Run("store failure on configure", func(t *testing.T) {
		repo := &mocks.MockNomineeRepository{}
		repo.On("Get", mock.Anything, owner).Return(nil, errors.New("connection refused"))
		gate := NewInactivityClaimGate(repo, nil, nil, testBusiness, nil)

		_, err := gate.Configure(ctx, owner, &domain.ConfigureNomineesRequest{Nominees: []domain.NomineeShare{share(alice, 100)}})

		var be *customError.BusinessError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, customError.ErrCodeDatabaseError, be.Code)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("activity without configuration is ignored", func(t *testing.T) {
		repo := &mocks.MockNomineeRepository{}
		repo.On("Update", mock.Anything, owner, mock.Anything).Return(store.ErrNotFound)
		gate := NewInactivityClaimGate(repo, nil, nil, testBusiness, nil)

		assert.NoError(t, gate.RecordActivity(ctx, owner))
		repo.AssertExpectations(t)
	})

	t.Run("activity store failure", func(t *testing.T) {
		repo := &mocks.MockNomineeRepository{}
		repo.On("Update", mock.Anything, owner, mock.Anything).Return(errors.New("timeout"))
		gate := NewInactivityClaimGate(repo, nil, nil, testBusiness, nil)

		err := gate.RecordActivity(ctx, owner)
		var be *customError.BusinessError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, customError.ErrCodeDatabaseError, be.Code)
	})
}
