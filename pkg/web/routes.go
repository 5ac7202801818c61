package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (wb *Web) Routes() http.Handler {
	r := chi.NewRouter()

	// Public routes - no auth needed
	r.Get("/version", wb.handleGetVersion)
	r.Get("/health", wb.handleHealth)

	// Protected routes - require the API token
	r.Group(func(r chi.Router) {
		r.Use(wb.authMiddleware)

		r.Route("/api", func(r chi.Router) {
			r.Get("/torrents", wb.handleGetTorrents)
			r.Post("/torrents", wb.handleAddTorrent)
			r.Get("/torrents/{id}", wb.handleGetTorrent)
			r.Post("/torrents/{id}/retry", wb.handleRetryTorrent)
			r.Delete("/torrents/{id}", wb.handleDeleteTorrent)

			r.Get("/config", wb.handleGetConfig)
		})
	})

	return r
}
