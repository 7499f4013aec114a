package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Strob0t/LaunchLoop/internal/adapter/postgres"
	"github.com/Strob0t/LaunchLoop/internal/config"
)

var errNotPostgres = errors.New("migrations apply to the postgres driver only")

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := postgresConfig()
			if err != nil {
				return err
			}
			if err := postgres.RunMigrations(cmd.Context(), cfg.Postgres.DSN); err != nil {
				return err
			}
			return printVersion(cmd, cfg)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			cfg, err := postgresConfig()
			if err != nil {
				return err
			}
			if err := postgres.RollbackMigrations(cmd.Context(), cfg.Postgres.DSN, steps); err != nil {
				return err
			}
			return printVersion(cmd, cfg)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := postgresConfig()
			if err != nil {
				return err
			}
			return printVersion(cmd, cfg)
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func postgresConfig() (*config.Config, error) {
	cfg, closer, err := loadConfig()
	if err != nil {
		return nil, err
	}
	closer.Close()
	if cfg.Storage.Driver != "postgres" {
		return nil, errNotPostgres
	}
	return cfg, nil
}

func printVersion(cmd *cobra.Command, cfg *config.Config) error {
	v, err := postgres.MigrationVersion(cmd.Context(), cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ok(fmt.Sprintf("schema version %d", v)))
	return nil
}
