/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For service logic, models, and the error taxonomy.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stratvault/ledger-service/internal/app"
	"github.com/stratvault/ledger-service/internal/domain"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// writeJSON writes a JSON response body with the given status.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the ledger error taxonomy to HTTP statuses. Every
// business failure carries its specific kind; only unexpected errors collapse
// to a 500.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrPaused):
		h.writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrUnknownStrategy):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStrategyInactive):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidAllocation),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRiskProfile),
		errors.Is(err, domain.ErrInvalidRiskScore),
		errors.Is(err, domain.ErrInvalidProtocol):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unexpected service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *LedgerHandlers) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	callerID, ok := GetCallerID(r.Context())
	if !ok {
		http.Error(w, "Could not get caller ID from context", http.StatusInternalServerError)
		return "", false
	}
	return callerID, true
}

func (h *LedgerHandlers) callerUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(callerID)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id caller_id=%s", callerID)
		http.Error(w, "Invalid user ID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return userID, true
}

func (h *LedgerHandlers) strategyIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid strategy id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// AddStrategyHandler registers a new strategy. Administrator only.
func (h *LedgerHandlers) AddStrategyHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req domain.AddStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	id, err := h.service.AddStrategy(r.Context(), caller, req)
	if err != nil {
		h.writeServiceError(w, "add_strategy", err)
		return
	}
	log.Printf("level=info component=api endpoint=add_strategy outcome=accepted strategy_id=%d protocol=%s", id, req.Protocol)
	h.writeJSON(w, http.StatusCreated, map[string]int64{"strategy_id": id})
}

// UpdateStrategyAPYHandler overwrites a strategy's APY. Administrator only.
func (h *LedgerHandlers) UpdateStrategyAPYHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerID(w, r)
	if !ok {
		return
	}
	id, ok := h.strategyIDParam(w, r)
	if !ok {
		return
	}
	var req domain.UpdateAPYRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateStrategyAPY(r.Context(), caller, id, req.APYBps); err != nil {
		h.writeServiceError(w, "update_strategy_apy", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetStrategyActiveHandler toggles a strategy's active flag. Administrator only.
func (h *LedgerHandlers) SetStrategyActiveHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerID(w, r)
	if !ok {
		return
	}
	id, ok := h.strategyIDParam(w, r)
	if !ok {
		return
	}
	var req domain.SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.SetStrategyActive(r.Context(), caller, id, req.Active); err != nil {
		h.writeServiceError(w, "set_strategy_active", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetAssetContractHandler configures the accepted asset. Administrator only.
func (h *LedgerHandlers) SetAssetContractHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req domain.SetAssetContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.SetAssetContract(r.Context(), caller, req.Asset); err != nil {
		h.writeServiceError(w, "set_asset_contract", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// PauseHandler sets the global pause flag. Administrator only.
func (h *LedgerHandlers) PauseHandler(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true, "pause")
}

// UnpauseHandler clears the global pause flag. Administrator only.
func (h *LedgerHandlers) UnpauseHandler(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false, "unpause")
}

func (h *LedgerHandlers) setPaused(w http.ResponseWriter, r *http.Request, paused bool, endpoint string) {
	caller, ok := h.callerID(w, r)
	if !ok {
		return
	}
	if err := h.service.SetPaused(r.Context(), caller, paused); err != nil {
		h.writeServiceError(w, endpoint, err)
		return
	}
	log.Printf("level=info component=api endpoint=%s outcome=accepted paused=%t", endpoint, paused)
	h.writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// RecoverTokensHandler sweeps the custody balance to a recipient. Administrator only.
func (h *LedgerHandlers) RecoverTokensHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req domain.RecoverTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Recipient == "" {
		http.Error(w, "Recipient is required", http.StatusBadRequest)
		return
	}

	amount, err := h.service.RecoverTokens(r.Context(), caller, req.Recipient)
	if err != nil {
		h.writeServiceError(w, "recover_tokens", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"recovered": amount})
}

// DepositHandler handles a user deposit of the configured asset.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerUserID(w, r)
	if !ok {
		return
	}
	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.Deposit(r.Context(), userID, req); err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, "deposit", err)
		return
	}
	log.Printf("level=info component=api endpoint=deposit outcome=accepted user_id=%s amount=%d", userID, req.Amount)
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "completed"})
}

// WithdrawHandler handles a user withdrawal of the configured asset.
func (h *LedgerHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerUserID(w, r)
	if !ok {
		return
	}
	var req domain.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.Withdraw(r.Context(), userID, req); err != nil {
		log.Printf("level=warn component=api endpoint=withdraw outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, "withdraw", err)
		return
	}
	log.Printf("level=info component=api endpoint=withdraw outcome=accepted user_id=%s amount=%d", userID, req.Amount)
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "completed"})
}

// SetRiskProfileHandler overwrites the caller's risk profile.
func (h *LedgerHandlers) SetRiskProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerUserID(w, r)
	if !ok {
		return
	}
	var req domain.SetRiskProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	profile, err := domain.ParseRiskProfile(req.Profile)
	if err != nil {
		h.writeServiceError(w, "set_risk_profile", err)
		return
	}

	if err := h.service.SetRiskProfile(r.Context(), userID, profile); err != nil {
		h.writeServiceError(w, "set_risk_profile", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"risk_profile": string(profile)})
}

// ReallocateHandler writes a caller-supplied allocation set.
func (h *LedgerHandlers) ReallocateHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerUserID(w, r)
	if !ok {
		return
	}
	var req domain.ReallocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.service.Reallocate(r.Context(), userID, req); err != nil {
		log.Printf("level=warn component=api endpoint=reallocate outcome=failed user_id=%s err=%v", userID, err)
		h.writeServiceError(w, "reallocate", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// GetStrategyHandler returns a strategy by id. Read surface, unguarded.
func (h *LedgerHandlers) GetStrategyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.strategyIDParam(w, r)
	if !ok {
		return
	}
	strategy, err := h.service.GetStrategy(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get_strategy", err)
		return
	}
	h.writeJSON(w, http.StatusOK, strategy)
}

// StrategyCountHandler returns the number of strategies ever registered.
func (h *LedgerHandlers) StrategyCountHandler(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.StrategyCount(r.Context())
	if err != nil {
		h.writeServiceError(w, "strategy_count", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (h *LedgerHandlers) userIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return userID, true
}

// UserValueHandler returns a user's total deposited value.
func (h *LedgerHandlers) UserValueHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	value, err := h.service.UserTotalValue(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "user_value", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"total_value": value})
}

// UserRiskProfileHandler returns a user's risk profile.
func (h *LedgerHandlers) UserRiskProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	profile, err := h.service.UserRiskProfile(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "user_risk_profile", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"risk_profile": string(profile)})
}

// UserAllocationsHandler returns all allocation entries for a user.
func (h *LedgerHandlers) UserAllocationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	entries, err := h.service.UserAllocations(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "user_allocations", err)
		return
	}
	if entries == nil {
		entries = []domain.AllocationEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// UserAllocationHandler returns one (user, strategy) share in basis points.
func (h *LedgerHandlers) UserAllocationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	strategyID, err := strconv.ParseInt(chi.URLParam(r, "strategyID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid strategy id", http.StatusBadRequest)
		return
	}
	share, err := h.service.UserAllocation(r.Context(), userID, strategyID)
	if err != nil {
		h.writeServiceError(w, "user_allocation", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"share_bps": share})
}

// TotalFundsLockedHandler returns the aggregate deposited value.
func (h *LedgerHandlers) TotalFundsLockedHandler(w http.ResponseWriter, r *http.Request) {
	tvl, err := h.service.TotalFundsLocked(r.Context())
	if err != nil {
		h.writeServiceError(w, "total_funds_locked", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"total_funds_locked": tvl})
}

// PausedHandler reports the global pause flag.
func (h *LedgerHandlers) PausedHandler(w http.ResponseWriter, r *http.Request) {
	paused, err := h.service.IsPaused(r.Context())
	if err != nil {
		h.writeServiceError(w, "paused", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}
