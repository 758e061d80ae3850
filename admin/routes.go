package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/gridtopic/telemetry"
	"github.com/rs/zerolog/log"
)

// Routes builds the node's HTTP handler: health, metrics and the admin API under /admin
func Routes(handlers *AdminHandlers) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, map[string]string{"status": "ok"})
	})
	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Route("/topics", func(r chi.Router) {
			r.Get("/", handlers.handleListTopics)
			r.Get("/{topic}", handlers.handleGetTopic)
			r.Put("/{topic}", handlers.handleOpenTopic)
			r.Delete("/{topic}", handlers.handleDestroyTopic)
			r.Post("/{topic}/publish", handlers.handlePublish)
			r.Get("/{topic}/poll", handlers.handlePoll)
		})

		r.Get("/bridges", handlers.handleBridges)

		r.Route("/cluster", func(r chi.Router) {
			r.Get("/members", handlers.handleClusterMembers)
			r.Post("/members", handlers.handleClusterJoin)
			r.Delete("/members/{memberID}", handlers.handleClusterLeave)
		})
	})

	log.Info().Msg("Admin endpoints enabled at /admin/topics/*")
	return r
}

