package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	jwttoken "civic/internal/jwt_token"
	officehandler "civic/internal/offices/handler"
	officialhandler "civic/internal/officials/handler"
	"civic/internal/platform/config"
	"civic/internal/platform/httpserver"
	"civic/internal/platform/logger"
	platformmetrics "civic/internal/platform/metrics"
	verificationhandler "civic/internal/verification/handler"
	"civic/pkg/platform/httputil"
	"civic/pkg/platform/middleware/auth"
	"civic/pkg/platform/middleware/logging"
	"civic/pkg/platform/middleware/metadata"
	"civic/pkg/platform/middleware/requesttime"
	"civic/pkg/requestcontext"
)

const shutdownTimeout = 15 * time.Second

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app, err := build(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer app.close()

	if cfg.SeedDemoData {
		if err := seedDemo(ctx, app, cfg, log); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	srv := httpserver.New(cfg.Addr, newRouter(app, cfg, log, reg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting civic server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return app.sweeper.Run(gctx)
	})
	if app.sink != nil {
		g.Go(func() error {
			return app.sink.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(app *application, cfg config.Server, log *slog.Logger, reg *prometheus.Registry) http.Handler {
	httpMetrics := platformmetrics.New(reg)
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)

	offices := officehandler.New(app.registry, log)
	officials := officialhandler.New(app.gate, log)
	verification := verificationhandler.New(app.verification, app.documents, app.searchOffices, log,
		verificationhandler.WithSearchDelay(cfg.Verification.SearchDebounce))

	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(logging.Recovery(log))
	r.Use(logging.Logger(log))
	r.Use(httpMetrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed",
				"request_id", requestcontext.RequestID(r.Context()),
				"error", err,
			)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/v1", func(r chi.Router) {
		officials.RegisterPublic(r)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(jwtService, log))

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(requestcontext.RoleOfficial, log))
				offices.Register(r)
				officials.RegisterOfficial(r)
				verification.RegisterOfficial(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(requestcontext.RoleReviewer, log))
				verification.RegisterReviewer(r)
			})
		})
	})
	return r
}
