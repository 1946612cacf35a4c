package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tidexp/retrieval-engine/app"
	"github.com/tidexp/retrieval-engine/handlers"
	"github.com/tidexp/retrieval-engine/middleware"
	"github.com/tidexp/retrieval-engine/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger.Named("http")))
	r.Use(chimw.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.Store, deps.Logger)
	search := handlers.NewSearchHandler(deps.Retrieval, deps.Logger)
	chunks := handlers.NewChunksHandler(deps.Chunks, deps.Ingest, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handlers.StatusHandler(handlers.StatusInfo{
			Environment:         cfg.Environment,
			EmbeddingProvider:   deps.Embedder.Name(),
			EmbeddingModel:      cfg.Embedding.Model,
			EmbeddingDimensions: deps.Embedder.Dimensions(),
			StoreDriver:         cfg.Storage.Driver,
		}))

		r.Group(func(r chi.Router) {
			if deps.AuthMiddleware != nil {
				r.Use(deps.AuthMiddleware.RequireAuth)
			}

			r.Post("/search", search.HandleSearch)

			r.Route("/sources/{sourceID}", func(r chi.Router) {
				r.Put("/chunks", chunks.HandleStoreChunks)
				r.Get("/chunks", chunks.HandleListChunks)
				r.Delete("/chunks", chunks.HandleDeleteChunks)
				r.Post("/ingest", chunks.HandleIngest)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Error:   "method_not_allowed",
			Message: r.Method + " is not supported for " + r.URL.Path,
		})
	})

	return r
}
