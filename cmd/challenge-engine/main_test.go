package main

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/terra-clan/challenge-engine/internal/config"
	"github.com/terra-clan/challenge-engine/internal/models"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "run", "report", "statistics", "migrate", "client"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("memory"))
}

func TestBuildFlags(t *testing.T) {
	parse := func(args ...string) (models.ReportBuildRequest, string, error) {
		var flags buildFlags
		cmd := &cobra.Command{Use: "run"}
		flags.register(cmd)
		require.NoError(t, cmd.ParseFlags(args))
		req, err := flags.request(cmd)
		return req, flags.project, err
	}

	req, project, err := parse("--project", "demo", "--number", "3", "--result", "failure", "--branches", "master,feature")
	require.NoError(t, err)
	assert.Equal(t, "demo", project)
	assert.Equal(t, 3, req.Number)
	assert.Equal(t, models.ResultFailure, req.Result)
	assert.Nil(t, req.TestCount, "unset test count is read from reports")
	assert.Equal(t, []string{"master", "feature"}, req.Branches)

	req, _, err = parse("--project", "demo", "--number", "3", "--tests", "0")
	require.NoError(t, err)
	require.NotNil(t, req.TestCount)
	assert.Zero(t, *req.TestCount)

	_, _, err = parse("--project", "demo")
	assert.Error(t, err)

	_, _, err = parse("--project", "demo", "--number", "1", "--result", "GREEN")
	assert.Error(t, err)
}

func TestNewAPIKey(t *testing.T) {
	a, b := newAPIKey(), newAPIKey()
	assert.True(t, strings.HasPrefix(a, "sk_"))
	assert.Len(t, a, 35)
	assert.NotContains(t, a, "-")
	assert.NotEqual(t, a, b)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = newLogger(config.LogConfig{Level: "verbose"})
	assert.Error(t, err)
}
