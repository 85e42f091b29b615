package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/video-stream/subtitler/internal/api/handlers"
	"github.com/video-stream/subtitler/internal/api/middleware"
	"github.com/video-stream/subtitler/internal/config"
	"github.com/video-stream/subtitler/internal/logging"
	"github.com/video-stream/subtitler/internal/pipeline"
)

// jsonBodyLimit caps request bodies on the JSON routes.
const jsonBodyLimit = 8 << 20

// NewRouter wires the HTTP surface. ctx bounds background helpers such as
// the rate limiter's cleanup.
func NewRouter(ctx context.Context, svc *pipeline.Service, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	logger = logging.Component(logger, "http")

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(cors.Handler(middleware.CORSHandler(cfg.CORSOrigins)))

	// Handlers
	taskHandler := handlers.NewTaskHandler(svc, cfg.MaxUploadBytes(), logger)
	detectHandler := handlers.NewDetectHandler(svc)
	transformHandler := handlers.NewTransformHandler(svc)
	progressHandler := handlers.NewProgressHandler(svc, cfg.ProgressInterval(), logger)
	uploadLimiter := middleware.NewRateLimiter(ctx, cfg.UploadsPerMin, time.Minute)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", taskHandler.Health)

		// Uploads carry their own body limit
		r.With(uploadLimiter.Handler).Post("/upload", taskHandler.Upload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.JSONBody(jsonBodyLimit))

			// Tasks
			r.Get("/tasks", taskHandler.List)
			r.Get("/tasks/{task_id}", taskHandler.Get)
			r.Get("/status/{task_id}", taskHandler.Status)
			r.Post("/cancel/{task_id}", taskHandler.Cancel)
			r.Get("/download/{task_id}", taskHandler.Download)
			r.Get("/preview/{task_id}", taskHandler.Preview)

			// Detection
			r.Post("/detect", detectHandler.Start)
			r.Post("/detect/confirm", detectHandler.Confirm)
			r.Get("/detect/{task_id}", detectHandler.Result)

			// Translation and removal
			r.Post("/translate", transformHandler.Translate)
			r.Post("/process", transformHandler.Process)
			r.Get("/presets", transformHandler.Presets)
			r.Get("/engines", transformHandler.Engines)
		})
	})

	r.Get("/ws/{task_id}", progressHandler.Stream)

	return r
}
