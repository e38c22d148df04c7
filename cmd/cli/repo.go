package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/sponsor-access-sync/internal/bootstrap"
	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
)

var repoTier string

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Attach and detach gated repositories",
}

var repoAttachCmd = &cobra.Command{
	Use:     "attach [owner] [ownerOrOrg/name]",
	Short:   "Gate a repository behind a tier",
	Example: `  sponsorctl repo attach octocat octo-org/private-docs --tier <tier-id>`,
	Args:    cobra.ExactArgs(2),
	RunE:    runRepoAttach,
}

var repoDetachCmd = &cobra.Command{
	Use:   "detach [owner] [ownerOrOrg/name]",
	Short: "Stop gating a repository and revoke sponsor access to it",
	Args:  cobra.ExactArgs(2),
	RunE:  runRepoDetach,
}

func init() {
	repoAttachCmd.Flags().StringVar(&repoTier, "tier", "", "tier ID")
	_ = repoAttachCmd.MarkFlagRequired("tier")

	repoCmd.AddCommand(repoAttachCmd)
	repoCmd.AddCommand(repoDetachCmd)
	rootCmd.AddCommand(repoCmd)
}

func splitRepo(fullName string) (string, string, error) {
	ownerOrOrg, name, ok := strings.Cut(fullName, "/")
	if !ok || ownerOrOrg == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("repository must be ownerOrOrg/name, got %q", fullName)
	}
	return ownerOrOrg, name, nil
}

func runRepoAttach(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ownerOrOrg, name, err := splitRepo(args[1])
	if err != nil {
		return err
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
	cred, ok := owner.Credential.(domain.Authenticated)
	if !ok {
		return fmt.Errorf("owner %s has no provider token; run owner register --token first", owner.Login)
	}
	if _, err := e.store.GetTier(ctx, owner.ID, repoTier); err != nil {
		return fmt.Errorf("tier %s: %w", repoTier, err)
	}

	providers, err := bootstrap.ProviderFactory(e.cfg, e.logger)
	if err != nil {
		return err
	}
	exists, err := providers.Client(owner.ID, cred).RepositoryExists(ctx, ownerOrOrg, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("repository %s/%s is not visible to %s", ownerOrOrg, name, owner.Login)
	}

	tid := repoTier
	repo := &domain.Repository{OwnerID: owner.ID, OwnerOrOrg: ownerOrOrg, Name: name, TierID: &tid}
	if err := e.store.SaveRepository(ctx, repo); err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}
	fmt.Printf("Repository %s attached to tier %s\n", repo.FullName(), repoTier)

	return e.submit(ctx, domain.TierResyncJob{OwnerID: owner.ID})
}

func runRepoDetach(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ownerOrOrg, name, err := splitRepo(args[1])
	if err != nil {
		return err
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
	if err := e.store.DeleteRepository(ctx, owner.ID, ownerOrOrg, name); err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	fmt.Printf("Repository %s/%s detached\n", ownerOrOrg, name)

	return e.submit(ctx, domain.RepositoryRemovedJob{OwnerID: owner.ID, OwnerOrOrg: ownerOrOrg, Name: name})
}
