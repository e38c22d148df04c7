package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
)

var (
	tierID          string
	tierMin         string
	tierDescription string
)

var tierCmd = &cobra.Command{
	Use:   "tier",
	Short: "Manage sponsorship tiers",
}

var tierListCmd = &cobra.Command{
	Use:   "list [owner]",
	Short: "List an owner's tiers and their repositories",
	Args:  cobra.ExactArgs(1),
	RunE:  runTierList,
}

var tierSetCmd = &cobra.Command{
	Use:   "set [owner] [title]",
	Short: "Create or update a tier",
	Long: `Create a tier, or update an existing one with --id. Every current sponsor
is re-evaluated against the new threshold.`,
	Example: `  sponsorctl tier set octocat "Gold" --min 20
  sponsorctl tier set octocat "Gold" --min 25.50 --id <tier-id>`,
	Args: cobra.ExactArgs(2),
	RunE: runTierSet,
}

var tierDeleteCmd = &cobra.Command{
	Use:   "delete [owner] [tier-id]",
	Short: "Delete a tier",
	Long: `Delete a tier. Its repositories stay registered but no longer belong to
any tier, and sponsors lose access to them.`,
	Args: cobra.ExactArgs(2),
	RunE: runTierDelete,
}

func init() {
	tierSetCmd.Flags().StringVar(&tierMin, "min", "", "minimum monthly amount in dollars (e.g. 5 or 5.50)")
	tierSetCmd.Flags().StringVar(&tierDescription, "description", "", "tier description")
	tierSetCmd.Flags().StringVar(&tierID, "id", "", "ID of the tier to update")
	_ = tierSetCmd.MarkFlagRequired("min")

	tierCmd.AddCommand(tierListCmd)
	tierCmd.AddCommand(tierSetCmd)
	tierCmd.AddCommand(tierDeleteCmd)
	rootCmd.AddCommand(tierCmd)
}

func runTierList(cmd *cobra.Command, args []string) error {
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
	tiers, err := e.store.GetTiers(ctx, owner.ID)
	if err != nil {
		return fmt.Errorf("failed to get tiers: %w", err)
	}

	if outputJSON {
		out := make([]map[string]any, 0, len(tiers))
		for _, t := range tiers {
			out = append(out, map[string]any{
				"id":           t.ID,
				"title":        t.Title,
				"description":  t.Description,
				"min_amount":   t.MinAmount.String(),
				"repositories": repoNames(t.Repositories),
			})
		}
		return printJSON(out)
	}

	if len(tiers) == 0 {
		fmt.Printf("No tiers for %s\n", owner.Login)
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Title", "Minimum", "Repositories"})
	for _, t := range tiers {
		table.Append([]string{
			t.ID,
			t.Title,
			t.MinAmount.String(),
			strings.Join(repoNames(t.Repositories), ", "),
		})
	}
	table.Render()
	return nil
}

func runTierSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	minAmount, err := domain.ParseDollars(tierMin)
	if err != nil {
		return fmt.Errorf("invalid --min: %w", err)
	}

	e, err := openEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	owner, err := e.owner(ctx, args[0])
	if err != nil {
		return err
	}

	tier := &domain.Tier{OwnerID: owner.ID}
	if tierID != "" {
		tier, err = e.store.GetTier(ctx, owner.ID, tierID)
		if err != nil {
			return fmt.Errorf("tier %s: %w", tierID, err)
		}
	}
	tier.Title = args[1]
	tier.MinAmount = minAmount
	if cmd.Flags().Changed("description") || tierID == "" {
		tier.Description = tierDescription
	}

	if err := e.store.SaveTier(ctx, tier); err != nil {
		return fmt.Errorf("failed to save tier: %w", err)
	}
	fmt.Printf("Tier %q saved (id %s, minimum %s)\n", tier.Title, tier.ID, tier.MinAmount)

	return e.submit(ctx, domain.TierResyncJob{OwnerID: owner.ID})
}

func runTierDelete(cmd *cobra.Command, args []string) error {
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

	tiers, err := e.store.GetTiers(ctx, owner.ID)
	if err != nil {
		return fmt.Errorf("failed to get tiers: %w", err)
	}
	var repos []*domain.Repository
	for _, t := range tiers {
		if t.ID == args[1] {
			repos = t.Repositories
		}
	}

	if err := e.store.DeleteTier(ctx, owner.ID, args[1]); err != nil {
		return fmt.Errorf("failed to delete tier: %w", err)
	}
	fmt.Printf("Tier %s deleted\n", args[1])

	jobs := make([]domain.Job, 0, len(repos))
	for _, r := range repos {
		jobs = append(jobs, domain.RepositoryRemovedJob{OwnerID: owner.ID, OwnerOrOrg: r.OwnerOrOrg, Name: r.Name})
	}
	return e.submit(ctx, jobs...)
}

func repoNames(repos []*domain.Repository) []string {
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.FullName())
	}
	return names
}
