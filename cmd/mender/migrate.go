package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/migrations"
)

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the job store schema",
	Long: `Apply or revert the embedded schema migrations.

The connection string comes from --dsn, then MENDER_DB_URL, then the
[database] section of the config file.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *migrate.Migrate) error {
			if err := ignoreNoChange(m.Up()); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			return printVersion(cmd, m)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert every migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *migrate.Migrate) error {
			if err := ignoreNoChange(m.Down()); err != nil {
				return fmt.Errorf("revert migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all migrations reverted")
			return nil
		})
	},
}

var migrateStepsCmd = &cobra.Command{
	Use:   "steps N",
	Short: "Apply N migrations, or revert them when N is negative",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n == 0 {
			return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
		}
		return withMigrator(cmd, func(m *migrate.Migrate) error {
			if err := ignoreNoChange(m.Steps(n)); err != nil {
				return fmt.Errorf("migrate %d steps: %w", n, err)
			}
			return printVersion(cmd, m)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(m *migrate.Migrate) error {
			return printVersion(cmd, m)
		})
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Mark VERSION as applied and clear the dirty flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("version must be an integer, got %q", args[0])
		}
		return withMigrator(cmd, func(m *migrate.Migrate) error {
			if err := m.Force(v); err != nil {
				return fmt.Errorf("force version %d: %w", v, err)
			}
			return printVersion(cmd, m)
		})
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateDSN, "dsn", "", "postgres connection URL")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStepsCmd, migrateVersionCmd, migrateForceCmd)
	rootCmd.AddCommand(migrateCmd)
}

func resolveDSN() (string, error) {
	if migrateDSN != "" {
		return migrateDSN, nil
	}
	if v := os.Getenv(config.EnvDatabaseURL); v != "" {
		return v, nil
	}
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return "", fmt.Errorf("no --dsn or %s, and config failed to load: %w", config.EnvDatabaseURL, err)
	}
	return cfg.Database.URLString(), nil
}

func withMigrator(cmd *cobra.Command, fn func(*migrate.Migrate) error) error {
	dsn, err := resolveDSN()
	if err != nil {
		return err
	}

	m, err := migrations.New(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(m)
}

func printVersion(cmd *cobra.Command, m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d", v)
	if dirty {
		fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
