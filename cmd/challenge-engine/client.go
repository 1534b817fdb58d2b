package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage API clients",
	}
	cmd.AddCommand(newClientCreateCmd())
	return cmd
}

func newClientCreateCmd() *cobra.Command {
	var (
		name        string
		permissions []string
		projects    []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API client and print its key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{DSN: cfg.Database.DSN, MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer repo.Close()

			client := &models.ApiClient{
				Name:        name,
				ApiKey:      newAPIKey(),
				IsActive:    true,
				Permissions: permissions,
				Projects:    projects,
			}
			if err := repo.CreateClient(ctx, client); err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			logger.Infow("api client created", "client", name, "key_prefix", client.MaskedApiKey())
			fmt.Println(client.ApiKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Client name")
	cmd.Flags().StringSliceVar(&permissions, "permission", []string{models.PermBuildsWrite}, "Granted permissions, e.g. builds:write, game:read, game:*")
	cmd.Flags().StringSliceVar(&projects, "project", nil, "Restrict the client to these projects")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newAPIKey() string {
	return "sk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
