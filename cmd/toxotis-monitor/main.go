package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentox/toxotis/pkg/auth"
	"github.com/opentox/toxotis/pkg/cache"
	"github.com/opentox/toxotis/pkg/config"
	"github.com/opentox/toxotis/pkg/monitor"
	"github.com/opentox/toxotis/pkg/opentox"
	"github.com/opentox/toxotis/pkg/registry"
	"github.com/opentox/toxotis/pkg/store"
	"github.com/opentox/toxotis/pkg/telemetry"
)

func main() {
	cfg, err := config.LoadMonitor()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "toxotis-monitor")
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}()

	repo, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
	}()

	reg, err := registry.FromMap(cfg.Algorithms)
	if err != nil {
		log.Fatalf("algorithm registry init failed: %v", err)
	}

	opts := monitor.Options{
		Client:       opentox.NewClient(cfg.RequestTimeout),
		Store:        repo,
		Registry:     reg,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		MaxRedirects: cfg.MaxRedirects,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		Token:        auth.Token(cfg.AuthToken),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		snapshots, err := cache.NewTaskCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("task cache init failed: %v", err)
		}
		defer snapshots.Close()
		opts.Snapshots = snapshots
	}

	svc, err := monitor.New(opts)
	if err != nil {
		log.Fatalf("monitor init failed: %v", err)
	}
	if n, err := svc.Resume(ctx); err != nil {
		logger.Error("resume unfinished trainings", "error", err)
	} else if n > 0 {
		logger.Info("resumed unfinished trainings", "count", n)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/healthz", healthzHandler)
	svc.AddRoutes(router)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("monitor http shutdown error: %v", err)
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Printf("monitor jobs shutdown error: %v", err)
		}
	}()

	logger.Info("toxotis monitor listening", "addr", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("monitor listen failed: %v", err)
	}

	<-ctx.Done()
	svc.Wait()
	logger.Info("toxotis monitor stopped")
}

// openStore prefers Postgres when a database URL is configured.
func openStore(ctx context.Context, cfg config.MonitorConfig) (store.Repository, error) {
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		return store.NewPostgresStore(ctx, dsn)
	}
	return store.NewStore(cfg.StorePath)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
