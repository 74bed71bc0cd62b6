package routes

import (
	"net/http"

	"github.com/rs/cors"

	"peoplecounter/internal/config"
	"peoplecounter/internal/handlers"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/middleware"
	"peoplecounter/internal/pipeline"
	"peoplecounter/internal/repository"
	"peoplecounter/internal/services/websocket"
)

// SetupRoutes registers the API endpoints, the static upload UI and wraps
// the mux with the CORS layer.
func SetupRoutes(proc *pipeline.Processor, store repository.ImageRepository, hub *websocket.HubService, cfg *config.Config, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /process", handlers.ProcessImageHandler(proc, hub, cfg, log))
	mux.HandleFunc("GET /images/{id}", handlers.GetImageHandler(store, log))
	mux.HandleFunc("PATCH /images/{id}",
		middleware.RequireAPIKey(cfg.APIKey, handlers.PatchImageMetadataHandler(store, log)))
	mux.HandleFunc("GET /api/images", handlers.ListImagesHandler(store, log))
	mux.HandleFunc("GET /api/events", handlers.EventsHandler(hub, log))
	mux.HandleFunc("GET /healthz", handlers.HealthHandler)

	// Upload page and assets
	mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}
