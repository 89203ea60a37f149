// Package main provides the WABDesk administration CLI for bootstrapping
// organizations and API tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/wabdesk/wabdesk/internal/auth"
	"github.com/wabdesk/wabdesk/internal/config"
	"github.com/wabdesk/wabdesk/internal/db"
	"github.com/wabdesk/wabdesk/internal/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dbURL string

	rootCmd := &cobra.Command{
		Use:          "wabdesk-admin",
		Short:        "WABDesk license server administration",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Database URL (or set WABDESK_DATABASE_URL)")

	connect := func(ctx context.Context) (*db.DB, error) {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(zerolog.WarnLevel).
			With().
			Timestamp().
			Logger()

		url := dbURL
		if url == "" {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return nil, err
			}
			url = cfg.DatabaseURL
		}
		if url == "" {
			return nil, errors.New("database URL required: use --db or set WABDESK_DATABASE_URL")
		}

		cfg := db.DefaultConfig(url)
		cfg.MaxConns = 2
		cfg.MinConns = 1
		return db.New(ctx, cfg, logger)
	}

	rootCmd.AddCommand(newOrgCmd(connect), newTokenCmd(connect))
	return rootCmd
}

type connectFunc func(ctx context.Context) (*db.DB, error)

func newOrgCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
	}

	var name, slug string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			org := models.NewOrganization(name, slug)
			if err := database.CreateOrganization(cmd.Context(), org); err != nil {
				return fmt.Errorf("create organization: %w", err)
			}

			fmt.Printf("Organization created\n")
			fmt.Printf("  ID:   %s\n", org.ID)
			fmt.Printf("  Name: %s\n", org.Name)
			fmt.Printf("  Slug: %s\n", org.Slug)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "Organization name (required)")
	create.Flags().StringVar(&slug, "slug", "", "Unique organization slug (required)")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("slug")

	cmd.AddCommand(create)
	return cmd
}

func newTokenCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	var org, role, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API token for an organization",
		Long: `Create an API token for an organization.

The plaintext token is printed once and cannot be recovered. Roles are
super_admin, admin (org administration) and member (desktop devices).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := models.Role(role)
			if !r.IsValid() {
				return fmt.Errorf("invalid role %q", role)
			}

			database, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			var o *models.Organization
			if id, perr := uuid.Parse(org); perr == nil {
				o, err = database.GetOrganizationByID(cmd.Context(), id)
			} else {
				o, err = database.GetOrganizationBySlug(cmd.Context(), org)
			}
			if err != nil {
				return fmt.Errorf("find organization %q: %w", org, err)
			}

			token, hash, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			apiToken := models.NewAPIToken(o.ID, uuid.New(), r, name, hash)
			if err := database.CreateAPIToken(cmd.Context(), apiToken); err != nil {
				return fmt.Errorf("create api token: %w", err)
			}

			fmt.Printf("API token created for %s (%s)\n", o.Slug, r)
			fmt.Printf("  ID:    %s\n", apiToken.ID)
			fmt.Printf("  Token: %s\n", token)
			fmt.Println("Store this token now. It will not be shown again.")
			return nil
		},
	}
	create.Flags().StringVar(&org, "org", "", "Organization ID or slug (required)")
	create.Flags().StringVar(&role, "role", string(models.RoleMember), "Token role")
	create.Flags().StringVar(&name, "name", "", "Token description")
	_ = create.MarkFlagRequired("org")

	revoke := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid token id: %w", err)
			}

			database, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.RevokeAPIToken(cmd.Context(), id); err != nil {
				return fmt.Errorf("revoke api token: %w", err)
			}
			fmt.Println("Token revoked.")
			return nil
		},
	}

	cmd.AddCommand(create, revoke)
	return cmd
}
