package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
	apperrors "github.com/kurihiro0119/sponsor-access-sync/internal/errors"
)

var (
	ownerSecret     string
	ownerToken      string
	ownerClearToken bool
)

var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Manage maintainer accounts",
}

var ownerRegisterCmd = &cobra.Command{
	Use:   "register [login]",
	Short: "Register or update a maintainer",
	Long: `Register a maintainer, or update the webhook secret and provider token of an
existing one. Without --secret a new secret is generated for new owners.
Without --token the stored token is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runOwnerRegister,
}

func init() {
	ownerRegisterCmd.Flags().StringVar(&ownerSecret, "secret", "", "webhook shared secret")
	ownerRegisterCmd.Flags().StringVar(&ownerToken, "token", "", "provider access token")
	ownerRegisterCmd.Flags().BoolVar(&ownerClearToken, "clear-token", false, "forget the stored provider token")

	ownerCmd.AddCommand(ownerRegisterCmd)
	rootCmd.AddCommand(ownerCmd)
}

func runOwnerRegister(cmd *cobra.Command, args []string) error {
	login := args[0]
	ctx := context.Background()

	e, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	owner, err := e.store.GetOwnerByLogin(ctx, login)
	switch {
	case apperrors.IsNotFound(err):
		owner = &domain.Owner{Login: login, Credential: domain.Unauthenticated{}}
	case err != nil:
		return fmt.Errorf("failed to load owner: %w", err)
	}

	generated := false
	if ownerSecret != "" {
		owner.WebhookSecret = ownerSecret
	} else if owner.WebhookSecret == "" {
		owner.WebhookSecret, err = newSecret()
		if err != nil {
			return err
		}
		generated = true
	}

	if ownerToken != "" {
		owner.Credential = domain.NewCredential(ownerToken)
	}
	if ownerClearToken {
		owner.Credential = domain.Unauthenticated{}
	}

	if err := e.store.SaveOwner(ctx, owner); err != nil {
		return fmt.Errorf("failed to save owner: %w", err)
	}

	_, authenticated := owner.Credential.(domain.Authenticated)
	if outputJSON {
		out := map[string]any{"id": owner.ID, "login": owner.Login, "authenticated": authenticated}
		if generated {
			out["webhook_secret"] = owner.WebhookSecret
		}
		return printJSON(out)
	}

	fmt.Printf("Owner %s saved (id %s, authenticated: %t)\n", owner.Login, owner.ID, authenticated)
	if generated {
		fmt.Printf("Webhook secret: %s\n", owner.WebhookSecret)
	}
	fmt.Printf("Webhook URL path: /webhooks/sponsor/%s\n", owner.Login)
	return nil
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
