package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/sponsor-access-sync/internal/api"
	"github.com/kurihiro0119/sponsor-access-sync/internal/bootstrap"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	"github.com/kurihiro0119/sponsor-access-sync/internal/webhook"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.Logger(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, err := bootstrap.OpenStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	q, err := bootstrap.OpenQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(reg, cfg.MetricsNamespace)

	// Setup routes
	hooks := webhook.NewHandler(store, q, recorder, logger)
	router := api.SetupRoutes(api.NewHandler(version), hooks, reg, logger)

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// An in-memory queue is private to this process, so the worker and
	// scheduler must run here too.
	var engine *bootstrap.Engine
	if cfg.QueueBackend == "memory" {
		engine, err = bootstrap.NewEngine(cfg, store, q, recorder, logger)
		if err != nil {
			return err
		}
		if err := engine.Scheduler.Start(ctx, cfg.SchedulerCron); err != nil {
			return err
		}
		defer engine.Scheduler.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	if engine != nil {
		g.Go(func() error {
			return engine.Pool.Run(gctx)
		})
	}

	g.Go(func() error {
		logger.Info().
			Str("addr", addr).
			Str("storage", cfg.StorageType).
			Str("queue", cfg.QueueBackend).
			Msg("starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Msg("API server stopped")
	return err
}
