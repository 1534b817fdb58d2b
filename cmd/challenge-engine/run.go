package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// buildFlags describe one build on the command line
type buildFlags struct {
	req     models.ReportBuildRequest
	project string
	result  string
	tests   int
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.project, "project", "", "Project name from the catalog")
	cmd.Flags().IntVar(&f.req.Number, "number", 0, "Build number")
	cmd.Flags().StringVar(&f.req.Branch, "branch", "", "Branch the build ran on (detected from the workspace when empty)")
	cmd.Flags().StringVar(&f.result, "result", string(models.ResultSuccess), "Build result: SUCCESS, UNSTABLE, FAILURE, ABORTED or NOT_BUILT")
	cmd.Flags().StringVar(&f.req.Workspace, "workspace", "", "Build checkout (defaults to the project workspace)")
	cmd.Flags().IntVar(&f.tests, "tests", 0, "Executed test count (read from JUnit reports when unset)")
	cmd.Flags().StringVar(&f.req.AuthorName, "author-name", "", "Author of the failing commit")
	cmd.Flags().StringVar(&f.req.AuthorEmail, "author-email", "", "E-mail of the failing commit author")
	cmd.Flags().StringSliceVar(&f.req.Branches, "branches", nil, "Branches still under development")
	cmd.MarkFlagRequired("project")
}

// request completes the parsed flags into a build request
func (f *buildFlags) request(cmd *cobra.Command) (models.ReportBuildRequest, error) {
	req := f.req
	req.Result = models.BuildResult(strings.ToUpper(f.result))
	if cmd.Flags().Changed("tests") {
		tests := f.tests
		req.TestCount = &tests
	}

	if req.Number < 1 {
		return req, fmt.Errorf("--number must be at least 1")
	}
	switch req.Result {
	case models.ResultSuccess, models.ResultUnstable, models.ResultFailure, models.ResultAborted, models.ResultNotBuilt:
	default:
		return req, fmt.Errorf("unknown build result: %s", f.result)
	}
	return req, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd() *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one build in-process with direct storage access",
		Example: `  challenge-engine run --memory --project demo --number 12 --branch master \
      --result SUCCESS --workspace /var/ci/demo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(cmd)
			if err != nil {
				return err
			}

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

			summary, err := a.engine.RunForBuild(ctx, req.ToBuild(flags.project))
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	flags.register(cmd)

	return cmd
}
