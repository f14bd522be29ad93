package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/env"
)

var (
	sourcePath string
	steps      int
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Database migration tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&sourcePath, "path", "p", "migrations", "Directory holding the migration files")

	up := &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE:  withMigrate(runUp),
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE:  withMigrate(runDown),
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back")

	gotoCmd := &cobra.Command{
		Use:   "goto VERSION",
		Short: "Migrate to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE:  withMigrate(runGoto),
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current migration version",
		RunE:  withMigrate(runStatus),
	}

	cmd.AddCommand(up, down, gotoCmd, status)
	return cmd
}

// sourceURL returns the golang-migrate database url; multiStatements lets a
// single file create several tables.
func sourceURL(cfg config.Database) string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
}

func withMigrate(run func(m *migrate.Migrate, args []string) error) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		env.SetupEnvFile()
		cfg := config.Load()

		log.Infof("[Migrate] connecting to %s@%s:%s/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
		m, err := migrate.New("file://"+sourcePath, sourceURL(cfg.Database))
		if err != nil {
			return fmt.Errorf("init migrate: %w", err)
		}
		defer func() {
			if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
				log.Warnf("[Migrate] close: %v, %v", sourceErr, dbErr)
			}
		}()
		return run(m, args)
	}
}

func runUp(m *migrate.Migrate, _ []string) error {
	err := m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info("[Migrate] no change, database is up to date")
	case err != nil:
		return fmt.Errorf("run migrations: %w", err)
	default:
		log.Info("[Migrate] migrations applied")
	}
	return nil
}

func runDown(m *migrate.Migrate, _ []string) error {
	if steps < 1 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("roll back %d migration(s): %w", steps, err)
	}
	log.Infof("[Migrate] rolled back %d migration(s)", steps)
	return nil
}

func runGoto(m *migrate.Migrate, args []string) error {
	version, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	err = m.Migrate(uint(version))
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Infof("[Migrate] no change, database is already at version %d", version)
	case err != nil:
		return fmt.Errorf("migrate to version %d: %w", version, err)
	default:
		log.Infof("[Migrate] migrated to version %d", version)
	}
	return nil
}

func runStatus(m *migrate.Migrate, _ []string) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info("[Migrate] no migrations applied yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	log.Infof("[Migrate] current version: %d%s", version, suffix)
	return nil
}
