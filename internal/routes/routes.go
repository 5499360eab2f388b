package routes

import (
	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	sessions auth.SessionAuthorizer,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Get("/health", healthHandler.Health)

	router.Route("/auth", func(r chi.Router) {
		// Public routes, limited per client IP
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig))
			r.Post("/login", authHandler.Login)
			r.Post("/password/forgot", authHandler.ForgotPassword)
			r.Post("/password/reset", authHandler.ResetPassword)
		})

		// Any live session, including one still awaiting OTP
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(sessions, false))
			r.Get("/session", authHandler.CurrentSession)
			r.Post("/logout", authHandler.Logout)
			r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/otp/send", authHandler.SendOTP)
			r.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/otp/verify", authHandler.VerifyOTP)
		})

		// Fully authenticated sessions only
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(sessions, true))
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Post("/otp/status", authHandler.RequestOTPStatusChange)
			r.Post("/otp/status/confirm", authHandler.ConfirmOTPStatusChange)
		})
	})
}
