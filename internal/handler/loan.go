package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/service"
	"github.com/segyhp/vault-engine/pkg/response"
)

type LoanHandler struct {
	service   *service.LoanService
	validator *validator.Validate
}

func NewLoanHandler(service *service.LoanService, v *validator.Validate) *LoanHandler {
	return &LoanHandler{service: service, validator: v}
}

func (h *LoanHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.service.ListOffers(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, offers)
}

func (h *LoanHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOfferRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	offer, err := h.service.CreateOffer(r.Context(), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, offer)
}

func (h *LoanHandler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOfferRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	offer, err := h.service.UpdateOffer(r.Context(), mux.Vars(r)["offerId"], &req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, offer)
}

// DeleteOffer takes the acting lender from the lender query parameter.
func (h *LoanHandler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["offerId"]
	if err := h.service.DeleteOffer(r.Context(), id, r.URL.Query().Get("lender")); err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, map[string]string{"deleted": id})
}

func (h *LoanHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLoanRequestRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	lr, err := h.service.Request(r.Context(), &req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, lr)
}

func (h *LoanHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.lenderAction(w, r, h.service.Accept)
}

func (h *LoanHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.lenderAction(w, r, h.service.Reject)
}

type requestAction func(ctx context.Context, requestID, lender string) (*domain.LoanRequest, error)

func (h *LoanHandler) lenderAction(w http.ResponseWriter, r *http.Request, action requestAction) {
	var req domain.AccountRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	lr, err := action(r.Context(), mux.Vars(r)["requestId"], req.Account)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, lr)
}

func (h *LoanHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	loan, err := h.service.Fund(r.Context(), mux.Vars(r)["requestId"], req.Account)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, loan)
}

func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.service.GetLoan(r.Context(), mux.Vars(r)["loanId"])
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, loan)
}

func (h *LoanHandler) Repay(w http.ResponseWriter, r *http.Request) {
	var req domain.RepayRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	loan, err := h.service.Repay(r.Context(), mux.Vars(r)["loanId"], &req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, loan)
}

func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	acct, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	loans, err := h.service.ListLoans(r.Context(), acct)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, loans)
}

func (h *LoanHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	acct, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	reqs, err := h.service.ListRequests(r.Context(), acct)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, reqs)
}

func (h *LoanHandler) DueNotices(w http.ResponseWriter, r *http.Request) {
	acct, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	notices, err := h.service.DueNotices(r.Context(), acct, time.Now())
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, notices)
}
