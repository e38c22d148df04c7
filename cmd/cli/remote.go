package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/sponsor-access-sync/pkg/client"
)

var (
	apiURL       string
	replaySecret string
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running API server",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Work with sponsorship webhook deliveries",
}

var webhookReplayCmd = &cobra.Command{
	Use:   "replay [owner] [payload-file]",
	Short: "Sign and deliver a sponsorship payload to a running API server",
	Long: `Sign a sponsorship event payload with the owner's webhook secret and post it
to the API server, as GitHub would. Useful for replaying a delivery that
failed or for exercising a new tier setup.`,
	Args: cobra.ExactArgs(2),
	RunE: runWebhookReplay,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "url", "http://localhost:8080", "API server base URL")
	webhookReplayCmd.Flags().StringVar(&replaySecret, "secret", "", "webhook secret (defaults to the stored owner secret)")

	webhookCmd.AddCommand(webhookReplayCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(webhookCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	health, err := client.NewClient(apiURL).HealthCheck(context.Background())
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(health)
	}
	fmt.Printf("Status: %s\nVersion: %s\nUptime: %s\n", health.Status, health.Version, health.Uptime)
	return nil
}

func runWebhookReplay(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	payload, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	secret := replaySecret
	if secret == "" {
		e, err := openEnv(ctx, false)
		if err != nil {
			return err
		}
		owner, err := e.owner(ctx, args[0])
		e.Close()
		if err != nil {
			return err
		}
		secret = owner.WebhookSecret
	}

	d, err := client.NewClient(apiURL).DeliverSponsorship(ctx, args[0], secret, payload)
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(map[string]any{"delivery": d.ID, "status": d.StatusCode, "body": d.Body})
	}
	fmt.Printf("Delivery %s: HTTP %d %s\n", d.ID, d.StatusCode, d.Body)
	if !d.Accepted() {
		return fmt.Errorf("delivery rejected with HTTP %d", d.StatusCode)
	}
	return nil
}
