package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/vault-engine/internal/domain"
)

// Gateway error codes with a local meaning.
const (
	codeInsufficientFunds = -32010
	codeDuplicateRef      = -32011
	codeSignatureDeclined = -32012
)

// RPCError is a JSON-RPC error object returned by the gateway.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	switch e.Code {
	case codeInsufficientFunds:
		return ErrInsufficientFunds
	case codeDuplicateRef:
		return ErrDuplicateRef
	case codeSignatureDeclined:
		return ErrSignatureDeclined
	}
	return nil
}

// RPCClient talks to the vault gateway over JSON-RPC 2.0. It implements
// both Ledger and Signer.
type RPCClient struct {
	httpURL    string
	httpClient *http.Client
	nextID     atomic.Int64
}

func NewRPCClient(httpURL string, timeout time.Duration) (*RPCClient, error) {
	if strings.TrimSpace(httpURL) == "" {
		return nil, fmt.Errorf("missing LEDGER_RPC_URL")
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &RPCClient{
		httpURL:    strings.TrimSpace(httpURL),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type receiptResult struct {
	TxHash    string `json:"txHash"`
	Timestamp int64  `json:"timestamp"`
}

type historyResult struct {
	Timestamp    int64  `json:"timestamp"`
	From         string `json:"from"`
	To           string `json:"to"`
	Action       string `json:"action"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balanceAfter"`
	Ref          string `json:"ref"`
}

func (c *RPCClient) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, ref string) (*domain.Receipt, error) {
	if !ValidAddress(from) || !ValidAddress(to) {
		return nil, ErrInvalidAddress
	}
	params := map[string]any{"from": from, "to": to, "amount": amount.String(), "ref": ref}
	return c.mutate(ctx, "vault_pay", params, from, to, amount, ref)
}

func (c *RPCClient) Deposit(ctx context.Context, account string, amount decimal.Decimal, ref string) (*domain.Receipt, error) {
	if !ValidAddress(account) {
		return nil, ErrInvalidAddress
	}
	params := map[string]any{"account": account, "amount": amount.String(), "ref": ref}
	return c.mutate(ctx, "vault_deposit", params, account, account, amount, ref)
}

func (c *RPCClient) Withdraw(ctx context.Context, account string, amount decimal.Decimal, to, ref string) (*domain.Receipt, error) {
	if to == "" {
		to = account
	}
	if !ValidAddress(account) || !ValidAddress(to) {
		return nil, ErrInvalidAddress
	}
	params := map[string]any{"account": account, "amount": amount.String(), "to": to, "ref": ref}
	return c.mutate(ctx, "vault_withdraw", params, account, to, amount, ref)
}

func (c *RPCClient) BalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	var raw string
	if err := c.rpc(ctx, "vault_balanceOf", []any{account}, &raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (c *RPCClient) RecentHistory(ctx context.Context, account string) ([]domain.HistoryEntry, error) {
	var rows []historyResult
	if err := c.rpc(ctx, "vault_recentHistory", []any{account}, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("history amount %q: %w", r.Amount, err)
		}
		after, err := decimal.NewFromString(r.BalanceAfter)
		if err != nil {
			return nil, fmt.Errorf("history balance %q: %w", r.BalanceAfter, err)
		}
		out = append(out, domain.HistoryEntry{
			Timestamp:    time.Unix(r.Timestamp, 0).UTC(),
			From:         r.From,
			To:           r.To,
			Action:       r.Action,
			Amount:       amount,
			BalanceAfter: after,
			Ref:          r.Ref,
		})
	}
	return out, nil
}

// Sign asks the gateway to have account sign message.
func (c *RPCClient) Sign(ctx context.Context, account, message string) (string, error) {
	var sig string
	if err := c.rpc(ctx, "personal_sign", []any{message, account}, &sig); err != nil {
		return "", err
	}
	if !strings.HasPrefix(sig, "0x") {
		return "", fmt.Errorf("invalid signature response")
	}
	return sig, nil
}

func (c *RPCClient) mutate(ctx context.Context, method string, params map[string]any, from, to string, amount decimal.Decimal, ref string) (*domain.Receipt, error) {
	var res receiptResult
	if err := c.rpc(ctx, method, []any{params}, &res); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(res.TxHash, "0x") {
		return nil, fmt.Errorf("invalid tx hash response")
	}
	ts := time.Now().UTC()
	if res.Timestamp > 0 {
		ts = time.Unix(res.Timestamp, 0).UTC()
	}
	return &domain.Receipt{
		Ref:       ref,
		TxHash:    res.TxHash,
		From:      from,
		To:        to,
		Amount:    amount,
		Timestamp: ts,
	}, nil
}

func (c *RPCClient) rpc(ctx context.Context, method string, params []any, out any) error {
	reqBody, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("rpc http status %d", resp.StatusCode)
	}

	var payload struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	if payload.Error != nil {
		return payload.Error
	}
	if len(payload.Result) == 0 {
		return fmt.Errorf("rpc empty result")
	}
	return json.Unmarshal(payload.Result, out)
}

// IsTimeout reports whether err means the outcome of a call is unknown:
// the request may or may not have been applied.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
