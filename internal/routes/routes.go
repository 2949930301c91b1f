package routes

import (
	"github.com/classboard/sentinel/internal/auth"
	"github.com/classboard/sentinel/internal/handlers"
	"github.com/classboard/sentinel/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	lockoutHandler *handlers.LockoutHandler,
	statsHandler *handlers.StatsHandler,
	policyHandler *handlers.PolicyHandler,
	tokenManager *auth.TokenManager,
) {
	ingestLimit := middleware.DefaultIngestRateLimit()
	adminLimit := middleware.DefaultAdminRateLimit()

	// Authenticated routes
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))

		// Ingest endpoints, called by upstream auth services on behalf of end users
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ingestLimit))
			r.Post("/attempts", lockoutHandler.RecordFailure)
			r.Get("/accounts/{id}/status", lockoutHandler.CheckStatus)
		})

		// Admin console endpoints
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			r.Use(middleware.RateLimitByIP(adminLimit))

			r.Get("/locked-accounts", lockoutHandler.ListLockedAccounts)
			r.Get("/lockout-statistics", statsHandler.GetStatistics)

			r.Post("/accounts/{id}/unlock", lockoutHandler.UnlockAccount)
			r.Post("/accounts/bulk-unlock", lockoutHandler.BulkUnlockAccounts)
			r.Post("/accounts/unlock-all", lockoutHandler.UnlockAllAccounts)

			r.Get("/security-policy", policyHandler.GetPolicy)
			r.Put("/security-policy", policyHandler.UpdatePolicy)
		})
	})
}
