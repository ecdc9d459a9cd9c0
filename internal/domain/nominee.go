package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NomineeShare assigns a percentage of the owner's vault to one address.
type NomineeShare struct {
	Address  string `json:"address" validate:"required,eth_addr"`
	SharePct int    `json:"share_pct" validate:"gte=1,lte=100"`
}

// NomineeConfig is the owner's inheritance setup.
type NomineeConfig struct {
	OwnerAccount            string         `json:"owner_account"`
	NomineeShares           []NomineeShare `json:"nominee_shares"`
	EncryptedPayload        string         `json:"encrypted_payload,omitempty"`
	LastActivityAt          time.Time      `json:"last_activity_at"`
	InactivityPeriodSeconds int64          `json:"inactivity_period_seconds"`
	ClaimedIndices          []int          `json:"claimed_indices"`
	// BalanceSnapshot is captured once inactivity is first confirmed and is the
	// base for every nominee's share.
	BalanceSnapshot *decimal.Decimal `json:"balance_snapshot,omitempty"`
	SnapshotAt      *time.Time       `json:"snapshot_at,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// InactivityPeriod returns the configured window as a duration.
func (c *NomineeConfig) InactivityPeriod() time.Duration {
	return time.Duration(c.InactivityPeriodSeconds) * time.Second
}

// IsInactive reports whether the owner has been idle for the whole window.
func (c *NomineeConfig) IsInactive(now time.Time) bool {
	return now.Sub(c.LastActivityAt) >= c.InactivityPeriod()
}

// IsClaimed reports whether index has already been paid out.
func (c *NomineeConfig) IsClaimed(index int) bool {
	for _, i := range c.ClaimedIndices {
		if i == index {
			return true
		}
	}
	return false
}

type ConfigureNomineesRequest struct {
	Nominees         []NomineeShare `json:"nominees" validate:"required,min=1,dive"`
	EncryptedPayload string         `json:"encrypted_payload"`
}

type ClaimRequest struct {
	Claimant string `json:"claimant" validate:"required,eth_addr"`
}

type InactivityPeriodRequest struct {
	Period string `json:"period" validate:"required"`
}

// InactivityStatus is the nominee-facing view of an owner's liveness.
type InactivityStatus struct {
	Owner             string    `json:"owner"`
	IsInactive        bool      `json:"is_inactive"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	InactivityPeriod  string    `json:"inactivity_period"`
	TimeUntilInactive string    `json:"time_until_inactive"`
	DaysUntilInactive int       `json:"days_until_inactive"`
	ClaimedIndices    []int     `json:"claimed_indices"`
}

// NomineeShareView describes one nominee slot and its projected payout.
type NomineeShareView struct {
	Index           int             `json:"index"`
	Address         string          `json:"address"`
	SharePct        int             `json:"share_pct"`
	Claimed         bool            `json:"claimed"`
	ProjectedAmount decimal.Decimal `json:"projected_amount"`
}
