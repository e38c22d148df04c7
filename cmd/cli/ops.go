package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	"github.com/kurihiro0119/sponsor-access-sync/internal/metrics"
	queueredis "github.com/kurihiro0119/sponsor-access-sync/internal/queue/redis"
	"github.com/kurihiro0119/sponsor-access-sync/internal/scheduler"
)

var auditLimit int

var resyncCmd = &cobra.Command{
	Use:   "resync [owner]",
	Short: "Re-evaluate every current sponsor of an owner",
	Args:  cobra.ExactArgs(1),
	RunE:  runResync,
}

var auditCmd = &cobra.Command{
	Use:   "audit [owner]",
	Short: "Show recent access changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Promote due pending sponsorship changes now",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the job queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per queue state",
	Args:  cobra.NoArgs,
	RunE:  runQueueStats,
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")

	queueCmd.AddCommand(queueStatsCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(queueCmd)
}

func runResync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	owner, err := e.owner(ctx, args[0])
	if err != nil {
		return err
	}
	return e.submit(ctx, domain.TierResyncJob{OwnerID: owner.ID})
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	owner, err := e.owner(ctx, args[0])
	if err != nil {
		return err
	}
	entries, err := e.store.GetAuditEntries(ctx, owner.ID, auditLimit)
	if err != nil {
		return fmt.Errorf("failed to get audit entries: %w", err)
	}

	if outputJSON {
		out := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			out = append(out, map[string]any{
				"timestamp":  entry.Timestamp.Format(time.RFC3339),
				"action":     entry.Action,
				"repository": entry.Repository,
				"sponsor":    entry.Sponsor,
			})
		}
		return printJSON(out)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "Action", "Repository", "Sponsor"})
	for _, entry := range entries {
		table.Append([]string{
			entry.Timestamp.Local().Format("2006-01-02 15:04:05"),
			string(entry.Action),
			entry.Repository,
			entry.Sponsor,
		})
	}
	table.Render()
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	sched := scheduler.New(e.store, e.queue, metrics.Noop{}, e.logger)
	result, err := sched.Sweep(ctx)
	if err != nil {
		return err
	}

	if outputJSON {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		fmt.Printf("Due: %d, promoted: %d, failed: %d\n", result.Due, result.Promoted, result.Failed)
	}
	return e.drain(ctx)
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	rq, ok := e.queue.(*queueredis.Queue)
	if !ok {
		return fmt.Errorf("queue stats needs QUEUE_BACKEND=redis; the memory queue lives inside one process")
	}
	stats, err := rq.Stats(ctx)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(stats)
	}

	states := make([]string, 0, len(stats))
	for state := range stats {
		states = append(states, state)
	}
	sort.Strings(states)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"State", "Jobs"})
	for _, state := range states {
		table.Append([]string{state, strconv.FormatInt(stats[state], 10)})
	}
	table.Render()
	return nil
}
