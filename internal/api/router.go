package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Daemon + remote status.
	r.Get("/status", h.Status)

	// Note projections.
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/*", h.GetNote)

	// Query orchestration.
	r.Post("/query", h.RunQuery)
	r.Get("/query/current", h.CurrentResult)

	// Full resync of understanding notes.
	r.Post("/resync", h.Resync)

	// Persisted settings blob.
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
