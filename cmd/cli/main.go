package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/sponsor-access-sync/internal/bootstrap"
	"github.com/kurihiro0119/sponsor-access-sync/internal/config"
	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/logging"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	"github.com/kurihiro0119/sponsor-access-sync/internal/queue"
	queuememory "github.com/kurihiro0119/sponsor-access-sync/internal/queue/memory"
	"github.com/kurihiro0119/sponsor-access-sync/internal/storage"
)

var outputJSON bool

var rootCmd = &cobra.Command{
	Use:   "sponsorctl",
	Short: "Sponsor access sync administration tool",
	Long: `A CLI tool for managing sponsorship tiers and the repositories they unlock.

Tier and repository changes queue reconciliation jobs so that every current
sponsor's collaborator access follows the new configuration.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env holds the resources a command needs
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  storage.Storage
	queue  queue.Queue
}

func openEnv(ctx context.Context, withQueue bool) (*env, error) {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return nil, err
	}
	e := &env{
		cfg:    cfg,
		logger: logging.Component(bootstrap.Logger(cfg), "cli"),
	}

	e.store, err = bootstrap.OpenStorage(cfg)
	if err != nil {
		return nil, err
	}
	if withQueue {
		e.queue, err = bootstrap.OpenQueue(ctx, cfg)
		if err != nil {
			_ = e.store.Close()
			return nil, err
		}
	}
	return e, nil
}

func (e *env) Close() {
	if e.queue != nil {
		_ = e.queue.Close()
	}
	_ = e.store.Close()
}

func (e *env) owner(ctx context.Context, login string) (*domain.Owner, error) {
	owner, err := e.store.GetOwnerByLogin(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("owner %s: %w", login, err)
	}
	return owner, nil
}

// submit enqueues jobs. A memory queue lives only in this process, so its
// jobs are processed here before returning.
func (e *env) submit(ctx context.Context, jobs ...domain.Job) error {
	for _, job := range jobs {
		if err := e.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue %s job: %w", job.Kind(), err)
		}
		fmt.Printf("Queued %s job (%s)\n", job.Kind(), job.Key())
	}
	return e.drain(ctx)
}

func (e *env) drain(ctx context.Context) error {
	mq, ok := e.queue.(*queuememory.Queue)
	if !ok {
		return nil
	}

	engine, err := bootstrap.NewEngine(e.cfg, e.store, e.queue, metrics.Noop{}, e.logger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- engine.Pool.Run(runCtx) }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		case <-ticker.C:
			if mq.Len() == 0 && mq.InFlight() == 0 && mq.Delayed() == 0 {
				cancel()
				if err := <-done; err != nil {
					return err
				}
				if dead := mq.DeadLetters(); len(dead) > 0 {
					return fmt.Errorf("%d job(s) failed permanently: %s", len(dead), dead[0].LastError)
				}
				fmt.Println("Jobs processed")
				return nil
			}
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
