package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires every route onto a chi router.
func NewRouter(h *Handlers, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	// approvals may wait on a Grok call
	r.Use(middleware.Timeout(80 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", h.Login)
		r.Get("/callback", h.Callback)
		r.With(h.requireSession).Get("/me", h.Me)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireSession)

		r.Get("/guilds", h.ListGuilds)
		r.Post("/approvals/{messageID}", h.ResolveApproval)

		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Use(h.requireGuildAdmin)

			r.Get("/config", h.GetConfig)
			r.Post("/config", h.UpdateConfig)
			r.Get("/pending", h.ListPending)
			r.Get("/history", h.ListHistory)
			r.Get("/analytics", h.GetAnalytics)
			r.Get("/usage", h.GetUsage)
			r.Get("/permissions", h.GetPermissions)
			r.Get("/admins", h.ListAdmins)
			r.Post("/admins", h.AddAdmin)
			r.Delete("/admins/{adminUserID}", h.RemoveAdmin)
		})
	})

	return r
}
