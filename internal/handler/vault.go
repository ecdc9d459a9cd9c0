package handler

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/service"
	customError "github.com/segyhp/vault-engine/pkg/errors"
	"github.com/segyhp/vault-engine/pkg/response"
)

type VaultHandler struct {
	vault     *service.VaultService
	validator *validator.Validate
}

func NewVaultHandler(vault *service.VaultService, v *validator.Validate) *VaultHandler {
	return &VaultHandler{vault: vault, validator: v}
}

func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, acct string, req domain.VaultAmountRequest) (*domain.Receipt, error) {
		return h.vault.Deposit(ctx, acct, req.Amount)
	})
}

func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, acct string, req domain.VaultAmountRequest) (*domain.Receipt, error) {
		return h.vault.Withdraw(ctx, acct, req.Amount, req.To)
	})
}

func (h *VaultHandler) Pay(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, acct string, req domain.VaultAmountRequest) (*domain.Receipt, error) {
		if req.To == "" {
			return nil, customError.WrapValidation("recipient is required")
		}
		return h.vault.Pay(ctx, acct, req.Amount, req.To)
	})
}

func (h *VaultHandler) mutate(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, acct string, req domain.VaultAmountRequest) (*domain.Receipt, error)) {
	acct, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	var req domain.VaultAmountRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	receipt, err := fn(r.Context(), acct, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, receipt)
}

type balanceResponse struct {
	Account string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

func (h *VaultHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acct, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	bal, err := h.vault.Balance(r.Context(), acct)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, balanceResponse{Account: acct, Balance: bal})
}

func (h *VaultHandler) History(w http.ResponseWriter, r *http.Request) {
	acct, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	history, err := h.vault.History(r.Context(), acct)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, history)
}
