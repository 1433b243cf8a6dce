package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"privata/internal/entity"
	"privata/internal/entity/handler"
	"privata/internal/entity/service"
	jwttoken "privata/internal/jwt_token"
	"privata/internal/platform/config"
	"privata/internal/platform/httpserver"
	"privata/internal/platform/logger"
	"privata/internal/platform/metrics"
	"privata/internal/schema"
	"privata/pkg/platform/httputil"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	registry := schema.NewRegistry()
	if cfg.SchemaDir != "" {
		names, err := schema.LoadDir(cfg.SchemaDir, registry)
		if err != nil {
			return err
		}
		log.Info("loaded schemas", "dir", cfg.SchemaDir, "entity_types", names)
	}

	m := metrics.New()
	catalog, err := entity.Build(registry, cfg.EntityTypes, infra.factory(cfg, m, log))
	if err != nil {
		return err
	}
	if len(catalog.Types()) == 0 {
		return errors.New("no entity types configured: set SCHEMA_DIR or ENTITY_TYPES")
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)

	r := chi.NewRouter()
	r.Get("/healthz", healthHandler(infra))
	r.Handle("/metrics", promhttp.Handler())
	handler.New(catalog, log, jwttoken.NewJWTServiceAdapter(jwtService)).Register(r)

	srv := httpserver.New(cfg.Addr, r)
	reconciler := service.NewReconciler(cfg.ReconcileInterval, cfg.ReconcileGrace, log, catalog.Repairers()...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting privata", "addr", cfg.Addr, "entity_types", catalog.Types())
		return httpserver.Run(gctx, srv, 10*time.Second)
	})
	g.Go(func() error {
		if err := reconciler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func healthHandler(infra *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := infra.Health(ctx)
		status := http.StatusOK
		for _, result := range checks {
			if result != "ok" {
				status = http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, status, checks)
	}
}
