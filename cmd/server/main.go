package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpHandlers "github.com/hausofbasquiat/gatekeeper/internal/adapters/http/handlers"
	httpMiddleware "github.com/hausofbasquiat/gatekeeper/internal/adapters/http/middleware"
	memorystorage "github.com/hausofbasquiat/gatekeeper/internal/adapters/storage/memory"
	redisstorage "github.com/hausofbasquiat/gatekeeper/internal/adapters/storage/redis"
	"github.com/hausofbasquiat/gatekeeper/internal/config"
	"github.com/hausofbasquiat/gatekeeper/internal/core/ports"
	"github.com/hausofbasquiat/gatekeeper/internal/core/services"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, closeFn, err := initStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer closeFn()

	governor, err := services.NewGovernor(store, services.GovernorConfig{
		Rules:         cfg.Governor.Rules,
		SweepInterval: cfg.Governor.SweepInterval,
		MaxRecordAge:  cfg.Governor.MaxRecordAge,
	})
	if err != nil {
		log.Fatalf("failed to create governor: %v", err)
	}
	defer governor.Close()

	adaptiveCfg := services.DefaultAdaptiveConfig()
	adaptiveCfg.RapidRequestThreshold = cfg.Adaptive.RapidRequestThreshold
	adaptiveCfg.DominantActionRatio = cfg.Adaptive.DominantActionRatio
	adaptiveCfg.DominantMinSamples = cfg.Adaptive.DominantMinSamples
	adaptiveCfg.BlockedThreshold = cfg.Adaptive.BlockedThreshold
	adaptiveCfg.SuspiciousFactor = cfg.Adaptive.SuspiciousFactor
	adaptiveCfg.ProfileMaxAge = cfg.Governor.MaxRecordAge
	adaptiveCfg.SweepInterval = cfg.Governor.SweepInterval

	adaptive, err := services.NewAdaptive(governor, adaptiveCfg)
	if err != nil {
		log.Fatalf("failed to create adaptive governor: %v", err)
	}
	defer adaptive.Close()

	resolver := services.NewActionResolver(nil)
	admin := httpHandlers.NewAdmin(governor, adaptive)

	r := chi.NewRouter()
	r.Use(httpMiddleware.NewRateLimiter(adaptive, resolver))
	r.Get("/healthz", httpHandlers.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/admin", func(r chi.Router) {
		r.Get("/analytics", admin.Analytics)
		r.Post("/limits/reset", admin.ResetLimit)
		r.Post("/behavior/reset", admin.ResetBehavior)
		r.Post("/ips/whitelist", admin.WhitelistIP)
		r.Post("/ips/suspicious", admin.MarkSuspiciousIP)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func initStorage(cfg config.StorageConfig) (ports.RecordStore, func(), error) {
	switch cfg.Type {
	case "redis":
		store, err := redisstorage.New(redisstorage.Config{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Printf("failed to close redis storage: %v", err)
			}
		}, nil
	case "memory":
		return memorystorage.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
