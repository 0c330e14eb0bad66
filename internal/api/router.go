/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Read surface. These endpoints expose no caller-specific secrets and are
	// left unauthenticated for dashboards and monitoring.
	r.Get("/strategies/count", h.StrategyCountHandler)
	r.Get("/strategies/{id}", h.GetStrategyHandler)
	r.Get("/users/{userID}/value", h.UserValueHandler)
	r.Get("/users/{userID}/risk-profile", h.UserRiskProfileHandler)
	r.Get("/users/{userID}/allocations", h.UserAllocationsHandler)
	r.Get("/users/{userID}/allocations/{strategyID}", h.UserAllocationHandler)
	r.Get("/ledger/tvl", h.TotalFundsLockedHandler)
	r.Get("/ledger/paused", h.PausedHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		// Administrator endpoints. The service layer enforces that the caller
		// matches the configured administrator.
		r.Post("/strategies", h.AddStrategyHandler)
		r.Put("/strategies/{id}/apy", h.UpdateStrategyAPYHandler)
		r.Put("/strategies/{id}/active", h.SetStrategyActiveHandler)
		r.Put("/ledger/asset", h.SetAssetContractHandler)
		r.Post("/ledger/pause", h.PauseHandler)
		r.Post("/ledger/unpause", h.UnpauseHandler)
		r.Post("/ledger/recover", h.RecoverTokensHandler)

		// User endpoints. The caller's JWT subject is the acting user.
		r.Post("/deposits", h.DepositHandler)
		r.Post("/withdrawals", h.WithdrawHandler)
		r.Put("/me/risk-profile", h.SetRiskProfileHandler)
		r.Put("/me/allocations", h.ReallocateHandler)
	})

	return r
}
