package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger history actions.
const (
	ActionDeposit  = "deposit"
	ActionWithdraw = "withdraw"
	ActionPay      = "pay"
)

// Receipt confirms a ledger mutation.
type Receipt struct {
	Ref       string          `json:"ref"`
	TxHash    string          `json:"tx_hash"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// HistoryEntry is one line of an account's recent ledger history.
type HistoryEntry struct {
	Timestamp    time.Time       `json:"timestamp"`
	From         string          `json:"from"`
	To           string          `json:"to"`
	Action       string          `json:"action"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Ref          string          `json:"ref"`
}

// Transfer is one leg of a disbursement batch.
type Transfer struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Memo   string          `json:"memo"`
	Ref    string          `json:"ref"`
}

// BatchResult reports how far a batch got. FailedAt is nil on full success.
type BatchResult struct {
	Succeeded []int     `json:"succeeded"`
	Receipts  []Receipt `json:"receipts"`
	FailedAt  *int      `json:"failed_at"`
	Err       error     `json:"-"`
}

// ActivityEvent is emitted by every vault-mutating action of an account.
type ActivityEvent struct {
	Account string    `json:"account"`
	Action  string    `json:"action"`
	At      time.Time `json:"at"`
}

type VaultAmountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"decimal_gt=0"`
	To     string          `json:"to" validate:"omitempty,eth_addr"`
}
