// Package ledger is the client side of the external custodial vault ledger.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/segyhp/vault-engine/internal/domain"
)

var (
	// ErrInsufficientFunds is the ledger's own over-draft rejection.
	ErrInsufficientFunds = errors.New("ledger: insufficient vault balance")
	// ErrDuplicateRef is returned when a ref has already been applied.
	ErrDuplicateRef = errors.New("ledger: ref already used")
	// ErrSignatureDeclined is returned by signers when the owner refuses to sign.
	ErrSignatureDeclined = errors.New("ledger: signature declined")
	// ErrInvalidAddress is returned for malformed account addresses.
	ErrInvalidAddress = errors.New("ledger: invalid address")
)

// Ledger is the external vault primitive. Every mutating call carries a
// caller-generated ref for later reconciliation against RecentHistory.
type Ledger interface {
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal, ref string) (*domain.Receipt, error)
	BalanceOf(ctx context.Context, account string) (decimal.Decimal, error)
	Deposit(ctx context.Context, account string, amount decimal.Decimal, ref string) (*domain.Receipt, error)
	Withdraw(ctx context.Context, account string, amount decimal.Decimal, to, ref string) (*domain.Receipt, error)
	RecentHistory(ctx context.Context, account string) ([]domain.HistoryEntry, error)
}

// Signer obtains an account's signature over a message.
type Signer interface {
	Sign(ctx context.Context, account, message string) (string, error)
}

// StaticSigner hands back a signature produced elsewhere, typically by the
// owner's wallet before the request reached the server. An empty signature
// counts as a refusal.
type StaticSigner string

func (s StaticSigner) Sign(_ context.Context, _ string, _ string) (string, error) {
	if s == "" {
		return "", ErrSignatureDeclined
	}
	return string(s), nil
}

// FindByRef returns the history entry carrying ref, if any.
func FindByRef(history []domain.HistoryEntry, ref string) (domain.HistoryEntry, bool) {
	for _, h := range history {
		if h.Ref == ref {
			return h, true
		}
	}
	return domain.HistoryEntry{}, false
}
