package main

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"attachgraph/internal/config"
	"attachgraph/internal/store"

	_ "modernc.org/sqlite"
)

func newMigrateCmd(cfg *config.Config, out *outputFlags) *cobra.Command {
	var dryRun bool
	var inspect bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inspect || dryRun {
				return printMigrationPlan(cfg.DBPath, out)
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if err := st.Close(); err != nil {
				return err
			}

			if out.structured() {
				return printMigrationPlan(cfg.DBPath, out)
			}
			return writePlain("Migrations applied successfully.\n")
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show pending migrations without applying")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "show migration status")

	return cmd
}

func printMigrationPlan(path string, out *outputFlags) error {
	db, err := openRawDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	plan, err := store.MigrationPlan(db)
	if err != nil {
		return fmt.Errorf("inspect migrations: %w", err)
	}
	if out.structured() {
		return writeStructured(plan)
	}

	_ = writePlain("Current version: %d\n", plan.CurrentVersion)
	_ = writePlain("Available version: %d\n", plan.AvailableVersion)
	if len(plan.Pending) == 0 {
		return writePlain("No pending migrations.\n")
	}
	_ = writePlain("Pending migrations: %d\n", len(plan.Pending))
	for _, m := range plan.Pending {
		_ = writePlain("  %d: %s\n", m.Version, m.Description)
	}
	return nil
}

func openRawDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return sql.Open("sqlite", u.String())
}
