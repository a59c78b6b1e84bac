// Package api provides the Pictor HTTP server: router, middleware stack,
// and graceful lifecycle.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pictorhq/pictor/internal/logger"
	"github.com/pictorhq/pictor/pkg/api/handlers"
	apimw "github.com/pictorhq/pictor/pkg/api/middleware"
	"github.com/pictorhq/pictor/pkg/gallery"
	"github.com/pictorhq/pictor/pkg/gradient"
	"github.com/pictorhq/pictor/pkg/request"
	"github.com/pictorhq/pictor/pkg/session"
	"github.com/pictorhq/pictor/pkg/store/meta"
	"github.com/pictorhq/pictor/pkg/store/object"
	"github.com/pictorhq/pictor/pkg/upload"
)

// Deps bundles everything the router serves.
type Deps struct {
	Sessions     *session.Store
	Uploads      *upload.SessionStore
	Finalizer    *upload.Finalizer
	Galleries    *gallery.Service
	Requests     *request.Service
	Worker       *gradient.Worker
	MetaStore    meta.Store
	ObjectStore  object.Store
	MaxChunkSize int64

	// MetricsRegistry, when set, exposes /metrics.
	MetricsRegistry *prometheus.Registry
}

// NewRouter creates the chi router with the full middleware stack and all
// routes.
//
// Routes:
//   - GET  /health, /health/ready, /health/gradient - probes, unauthenticated
//   - GET  /metrics - Prometheus, unauthenticated (when enabled)
//   - POST /auth/logout, GET /auth/me
//   - POST /uploads/initiate, /uploads/chunk, /uploads/finalize
//   - GET  /uploads/{uploadId}/progress, DELETE /uploads/{uploadId}
//   - /guilds/{guildId}/galleries CRUD and item listing
//   - GET  /media/{gallery}/{date}/* - object streaming
//   - /requests lifecycle and comments
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	var gradientRecords *gradient.Meta
	if deps.Worker != nil {
		gradientRecords = deps.Worker.Records()
	}

	healthHandler := handlers.NewHealthHandler(deps.MetaStore, deps.ObjectStore, deps.Worker)
	authHandler := handlers.NewAuthHandler(deps.Sessions)
	uploadHandler := handlers.NewUploadHandler(deps.Uploads, deps.Finalizer, deps.MaxChunkSize)
	galleryHandler := handlers.NewGalleryHandler(deps.Galleries, gradientRecords)
	mediaHandler := handlers.NewMediaHandler(deps.Galleries, deps.ObjectStore)
	requestHandler := handlers.NewRequestHandler(deps.Requests)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/gradient", healthHandler.GradientStats)
	})

	if deps.MetricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			deps.MetricsRegistry,
			promhttp.HandlerOpts{},
		))
	}

	// Everything below requires a valid session.
	r.Group(func(r chi.Router) {
		r.Use(apimw.SessionAuth(deps.Sessions))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
		})

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/initiate", uploadHandler.Initiate)
			r.Post("/chunk", uploadHandler.Chunk)
			r.Post("/finalize", uploadHandler.Finalize)
			r.Get("/{uploadId}/progress", uploadHandler.Progress)
			r.Delete("/{uploadId}", uploadHandler.Cancel)
		})

		r.Route("/guilds/{guildId}/galleries", func(r chi.Router) {
			r.Get("/", galleryHandler.List)
			r.Post("/", galleryHandler.Create)
			r.Delete("/{name}", galleryHandler.Delete)
			r.Get("/{name}/items", galleryHandler.Items)
		})

		r.Get("/media/{gallery}/{date}/*", mediaHandler.Stream)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", requestHandler.Create)
			r.Get("/", requestHandler.List)
			r.Get("/{id}", requestHandler.Get)
			r.Delete("/{id}", requestHandler.Delete)
			r.Post("/{id}/cancel", requestHandler.Cancel)
			r.Post("/{id}/status", requestHandler.ChangeStatus)
			r.Get("/{id}/comments", requestHandler.ListComments)
			r.Post("/{id}/comments", requestHandler.AddComment)
		})
	})

	return r
}

// requestLogger logs each request at completion with its status and
// duration. Health probes log at DEBUG to keep k8s noise out of the logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}
