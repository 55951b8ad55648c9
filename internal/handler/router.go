package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"migration-service/config"
	"migration-service/internal/middleware"
)

// NewRouter はルーターを生成する。metricsがnilの場合は/metricsを公開しない。
func NewRouter(h *MigrationHandler, cfg *config.Config, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// ルート定義
	if cfg.ExposeAPI {
		r.Route("/v1/migrations", func(r chi.Router) {
			r.Post("/run", h.RunMigrations)
			r.Post("/run-specific", h.RunSpecificMigration)
			r.Post("/revert", h.RevertMigration)
			r.Get("/status", h.GetStatus)
		})
	}

	if !cfg.OtelEnabled {
		return r
	}
	return otelhttp.NewHandler(r, "migration-service",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
