package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/scribe/internal/api/middleware"
	"github.com/kiranshivaraju/scribe/internal/api/response"
	"github.com/rs/cors"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	// AllowedOrigins are the browser origins permitted by CORS.
	AllowedOrigins []string

	HealthHandler         http.HandlerFunc
	TranscribeHandler     http.HandlerFunc
	TranscribeLinkHandler http.HandlerFunc
	StatusHandler         http.HandlerFunc
	EventsHandler         http.Handler
	DownloadHandler       http.HandlerFunc
	HistoryHandler        http.HandlerFunc
	CreateKeyHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeTranscribe))

			r.Post("/api/v1/transcribe", orNotImplemented(deps.TranscribeHandler))
			r.Post("/api/v1/transcribe-link", orNotImplemented(deps.TranscribeLinkHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeRead))

			r.Get("/api/v1/status/{jobID}", orNotImplemented(deps.StatusHandler))
			r.Get("/api/v1/download/{jobID}", orNotImplemented(deps.DownloadHandler))
			r.Get("/api/v1/history", orNotImplemented(deps.HistoryHandler))
			if deps.EventsHandler != nil {
				r.Method(http.MethodGet, "/api/v1/status/{jobID}/events", deps.EventsHandler)
			} else {
				r.Get("/api/v1/status/{jobID}/events", orNotImplemented(nil))
			}
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
