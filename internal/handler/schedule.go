package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/service"
	customError "github.com/segyhp/vault-engine/pkg/errors"
	"github.com/segyhp/vault-engine/pkg/response"
)

const approvalDeclinedNote = "approval declined: schedule saved paused with manual execution"

type ScheduleHandler struct {
	engine    *service.ScheduleEngine
	validator *validator.Validate
}

func NewScheduleHandler(engine *service.ScheduleEngine, v *validator.Validate) *ScheduleHandler {
	return &ScheduleHandler{engine: engine, validator: v}
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	schedules, err := h.engine.List(r.Context(), owner)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, schedules)
}

// Create answers 201 even when the owner declines to approve; the schedule
// exists in that case and the response carries a note.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	var spec domain.ScheduleSpec
	if err := decode(r, h.validator, &spec); err != nil {
		response.FromError(w, err)
		return
	}
	s, err := h.engine.Create(r.Context(), owner, &spec)
	h.write(w, http.StatusCreated, s, err)
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	s, err := h.engine.Get(r.Context(), owner, mux.Vars(r)["scheduleId"])
	h.write(w, http.StatusOK, s, err)
}

func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	var spec domain.ScheduleSpec
	if err := decode(r, h.validator, &spec); err != nil {
		response.FromError(w, err)
		return
	}
	s, err := h.engine.Update(r.Context(), owner, mux.Vars(r)["scheduleId"], &spec)
	h.write(w, http.StatusOK, s, err)
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	id := mux.Vars(r)["scheduleId"]
	if err := h.engine.Delete(r.Context(), owner, id); err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, map[string]string{"deleted": id})
}

func (h *ScheduleHandler) Pause(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	s, err := h.engine.Pause(r.Context(), owner, mux.Vars(r)["scheduleId"])
	h.write(w, http.StatusOK, s, err)
}

func (h *ScheduleHandler) Resume(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	s, err := h.engine.Resume(r.Context(), owner, mux.Vars(r)["scheduleId"])
	h.write(w, http.StatusOK, s, err)
}

func (h *ScheduleHandler) Execute(w http.ResponseWriter, r *http.Request) {
	owner, err := account(r)
	if err != nil {
		response.FromError(w, err)
		return
	}
	s, err := h.engine.ExecuteNow(r.Context(), owner, mux.Vars(r)["scheduleId"])
	h.write(w, http.StatusOK, s, err)
}

func (h *ScheduleHandler) write(w http.ResponseWriter, status int, s *domain.PayrollSchedule, err error) {
	switch {
	case err == nil:
		response.JSON(w, status, s)
	case errors.Is(err, customError.ErrApprovalDeclined) && s != nil:
		response.WithMessage(w, status, s, approvalDeclinedNote)
	default:
		response.FromError(w, err)
	}
}
