// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/tilemap-render-cache/internal/core/middleware"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/router"
)

type Deps struct {
	Renderer  router.Renderer
	Rebuilder router.Rebuilder
	Catalog   router.Catalog
	Ready     health.ReadinessReporter
	// ExposeMetrics mounts /metrics on the main listener.
	ExposeMetrics bool
}

func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if d.Ready != nil {
		r.Get("/readyz", health.Readiness(d.Ready))
	}
	if d.ExposeMetrics {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}
	r.Get("/map/get_map", router.HandleGetMap(logger, d.Renderer))
	r.Get("/map/plan", router.HandlePlan(logger, d.Renderer))
	if d.Rebuilder != nil && d.Catalog != nil {
		r.Post("/admin/rebuild/{mapID}", router.HandleRebuild(logger, d.Catalog, d.Rebuilder))
	}
	return r
}

// Run serves handler on addr until ctx is canceled.
func Run(ctx context.Context, addr string, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
