package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/segyhp/vault-engine/pkg/response"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Health    *HealthHandler
	Loans     *LoanHandler
	Schedules *ScheduleHandler
	Nominees  *NomineeHandler
	Vault     *VaultHandler
}

func NewRouter(h Handlers, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware(logger), response.JSONMiddleware)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	// Health check
	router.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Health.Ready).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/offers", h.Loans.ListOffers).Methods(http.MethodGet)
	api.HandleFunc("/offers", h.Loans.CreateOffer).Methods(http.MethodPost)
	api.HandleFunc("/offers/{offerId}", h.Loans.UpdateOffer).Methods(http.MethodPut)
	api.HandleFunc("/offers/{offerId}", h.Loans.DeleteOffer).Methods(http.MethodDelete)

	api.HandleFunc("/loan-requests", h.Loans.CreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/loan-requests/{requestId}/accept", h.Loans.Accept).Methods(http.MethodPost)
	api.HandleFunc("/loan-requests/{requestId}/reject", h.Loans.Reject).Methods(http.MethodPost)
	api.HandleFunc("/loan-requests/{requestId}/fund", h.Loans.Fund).Methods(http.MethodPost)

	api.HandleFunc("/loans/{loanId}", h.Loans.GetLoan).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loanId}/repay", h.Loans.Repay).Methods(http.MethodPost)

	acct := api.PathPrefix("/accounts/{account}").Subrouter()
	acct.HandleFunc("/loans", h.Loans.ListLoans).Methods(http.MethodGet)
	acct.HandleFunc("/loan-requests", h.Loans.ListRequests).Methods(http.MethodGet)
	acct.HandleFunc("/due-notices", h.Loans.DueNotices).Methods(http.MethodGet)

	acct.HandleFunc("/schedules", h.Schedules.List).Methods(http.MethodGet)
	acct.HandleFunc("/schedules", h.Schedules.Create).Methods(http.MethodPost)
	acct.HandleFunc("/schedules/{scheduleId}", h.Schedules.Get).Methods(http.MethodGet)
	acct.HandleFunc("/schedules/{scheduleId}", h.Schedules.Update).Methods(http.MethodPut)
	acct.HandleFunc("/schedules/{scheduleId}", h.Schedules.Delete).Methods(http.MethodDelete)
	acct.HandleFunc("/schedules/{scheduleId}/pause", h.Schedules.Pause).Methods(http.MethodPost)
	acct.HandleFunc("/schedules/{scheduleId}/resume", h.Schedules.Resume).Methods(http.MethodPost)
	acct.HandleFunc("/schedules/{scheduleId}/execute", h.Schedules.Execute).Methods(http.MethodPost)

	acct.HandleFunc("/nominees", h.Nominees.Get).Methods(http.MethodGet)
	acct.HandleFunc("/nominees", h.Nominees.Configure).Methods(http.MethodPut)
	acct.HandleFunc("/nominees", h.Nominees.Remove).Methods(http.MethodDelete)
	acct.HandleFunc("/nominees/status", h.Nominees.Status).Methods(http.MethodGet)
	acct.HandleFunc("/nominees/{index:[0-9]+}", h.Nominees.Share).Methods(http.MethodGet)
	acct.HandleFunc("/nominees/{index:[0-9]+}/claim", h.Nominees.Claim).Methods(http.MethodPost)
	acct.HandleFunc("/inactivity-period", h.Nominees.SetInactivityPeriod).Methods(http.MethodPut)

	acct.HandleFunc("/deposit", h.Vault.Deposit).Methods(http.MethodPost)
	acct.HandleFunc("/withdraw", h.Vault.Withdraw).Methods(http.MethodPost)
	acct.HandleFunc("/pay", h.Vault.Pay).Methods(http.MethodPost)
	acct.HandleFunc("/balance", h.Vault.Balance).Methods(http.MethodGet)
	acct.HandleFunc("/history", h.Vault.History).Methods(http.MethodGet)

	return router
}
