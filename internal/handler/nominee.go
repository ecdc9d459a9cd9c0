package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/service"
	customError "github.com/segyhp/vault-engine/pkg/errors"
	"github.com/segyhp/vault-engine/pkg/response"
)

type NomineeHandler struct {
	gate      *service.InactivityClaimGate
	validator *validator.Validate
}

func NewNomineeHandler(gate *service.InactivityClaimGate, v *validator.Validate) *NomineeHandler {
	return &NomineeHandler{gate: gate, validator: v}
}

func (h *NomineeHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	cfg, err := h.gate.Get(r.Context(), owner)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, cfg)
}

func (h *NomineeHandler) Configure(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	var req domain.ConfigureNomineesRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	cfg, err := h.gate.Configure(r.Context(), owner, &req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, cfg)
}

func (h *NomineeHandler) Remove(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if err := h.gate.Remove(r.Context(), owner); err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, map[string]string{"deleted": owner})
}

func (h *NomineeHandler) Status(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	status, err := h.gate.Status(r.Context(), owner, time.Now())
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, status)
}

func (h *NomineeHandler) Share(w http.ResponseWriter, r *http.Request) {
	owner, index, err := ownerAndIndex(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	view, err := h.gate.ShareOf(r.Context(), owner, index)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, view)
}

func (h *NomineeHandler) Claim(w http.ResponseWriter, r *http.Request) {
	owner, index, err := ownerAndIndex(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	var req domain.ClaimRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	receipt, err := h.gate.Claim(r.Context(), owner, index, req.Claimant)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, receipt)
}

// SetInactivityPeriod accepts Go duration strings such as "720h".
func (h *NomineeHandler) SetInactivityPeriod(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	var req domain.InactivityPeriodRequest
	if err := decode(r, h.validator, &req); err != nil {
		response.FromError(w, err)
		return
	}
	period, err := time.ParseDuration(req.Period)
	if err != nil {
		response.FromError(w, customError.WrapValidation("invalid inactivity period %q", req.Period))
		return
	}
	cfg, err := h.gate.SetInactivityPeriod(r.Context(), owner, period)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, cfg)
}

func ownerAndIndex(r *http.Request) (string, int, error) {
	owner, err := account(r)
	if err != nil {
		return "", 0, err
	}
	raw := mux.Vars(r)["index"]
	index, err := strconv.Atoi(raw)
	if err != nil {
		return "", 0, customError.WrapValidation("invalid nominee index %q", raw)
	}
	return owner, index, nil
}
