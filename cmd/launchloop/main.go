// Command launchloop runs the campaign graph engine and its operator tools.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/LaunchLoop/internal/config"
	"github.com/Strob0t/LaunchLoop/internal/logger"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "launchloop",
		Short:         "Closed-loop campaign graph engine",
		Long:          "LaunchLoop polls engagement metrics, evaluates triggers against them and proposes graph mutations for approval.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to the YAML config file")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newTriggerCmd(),
		newPlanCmd(),
		newProposalsCmd(),
	)
	return root
}

// loadConfig loads the config and installs the default logger.
func loadConfig() (*config.Config, logger.Closer, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	return cfg, closer, nil
}
