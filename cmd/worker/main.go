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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/sponsor-access-sync/internal/bootstrap"
	"github.com/kurihiro0119/sponsor-access-sync/internal/logging"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.QueueBackend == "memory" {
		return fmt.Errorf("the worker needs a shared queue; set QUEUE_BACKEND=redis or run the API alone")
	}
	logger := logging.Component(bootstrap.Logger(cfg), "worker-main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := bootstrap.Recover(ctx, q, logger); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(reg, cfg.MetricsNamespace)

	engine, err := bootstrap.NewEngine(cfg, store, q, recorder, logger)
	if err != nil {
		return err
	}

	if err := engine.Scheduler.Start(ctx, cfg.SchedulerCron); err != nil {
		return err
	}
	defer engine.Scheduler.Stop()

	// metrics only; webhooks are served by the API
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.APIHost, cfg.WorkerMetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Pool.Run(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Str("schedule", cfg.SchedulerCron).
		Msg("worker started")
	return g.Wait()
}
