// Command challenge-engine runs the coverage challenge game for CI builds.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/terra-clan/challenge-engine/internal/config"
)

// Global flags
var (
	configFile string
	inMemory   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "challenge-engine",
		Short:         "Turn CI builds into coverage challenges for developers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (YAML)")
	root.PersistentFlags().BoolVar(&inMemory, "memory", false, "Keep game state in memory instead of PostgreSQL")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newStatisticsCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newClientCmd())

	return root
}

// setup loads the configuration and installs the global logger
func setup() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	return cfg, logger.Sugar(), nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
