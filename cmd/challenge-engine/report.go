package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/challenge-engine/internal/storage"
	"github.com/terra-clan/challenge-engine/pkg/client"
)

func newReportCmd() *cobra.Command {
	var (
		flags   buildFlags
		server  string
		apiKey  string
		timeout time.Duration
		strict  bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report one build to a running challenge-engine server",
		Long: `Report one build to a running challenge-engine server.

Failures are logged and do not change the exit status unless --strict is
given, so the game never fails a CI build.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}

			_, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if apiKey == "" {
				apiKey = os.Getenv("CHALLENGE_ENGINE_API_KEY")
			}

			c := client.NewClient(server, apiKey, client.WithTimeout(timeout))
			summary, err := c.ReportBuild(context.Background(), flags.project, req)
			if err != nil {
				logger.Warnw("failed to report build", "project", flags.project, "run", req.Number, "error", err)
				if strict {
					return err
				}
				return nil
			}
			return printJSON(summary)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Base URL of the challenge-engine server")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key with builds:write (defaults to $CHALLENGE_ENGINE_API_KEY)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when the build could not be reported")

	return cmd
}

func newStatisticsCmd() *cobra.Command {
	var (
		project string
		repair  bool
	)

	cmd := &cobra.Command{
		Use:   "statistics",
		Short: "Print the statistics document of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger, inMemory)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, ok := a.catalog.Project(project); !ok {
				return fmt.Errorf("project not found: %s", project)
			}

			if repair {
				added, err := a.stats.Repair(ctx, project)
				if err != nil {
					return err
				}
				logger.Infow("statistics repaired", "project", project, "added", added)
			}

			doc, err := a.stats.XML(ctx, project)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(os.Stdout, doc)
			return err
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project name from the catalog")
	cmd.Flags().BoolVar(&repair, "repair", false, "Backfill missing run entries first")
	cmd.MarkFlagRequired("project")

	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			return storage.MigrateFromDSN(context.Background(), cfg.Database.DSN, cfg.Database.MigrationsDir, logger)
		},
	}
}
