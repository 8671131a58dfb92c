package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/directory"
	"github.com/kozaktomas/face-attendance/internal/store/postgres"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the employee roster from the HR database",
	Long: `Sync the employee roster from the read-only HR database mirror.

Active HR employees are upserted into the local roster. With --prune,
local employees no longer present in HR are removed along with their
face templates.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("prune", false, "Remove local employees missing from HR, including their templates")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Directory.MySQLDSN == "" {
		return errors.New("HR_DATABASE_DSN environment variable is required")
	}

	mirror, err := directory.NewHRMirror(cfg.Directory.MySQLDSN)
	if err != nil {
		return fmt.Errorf("connecting to HR database: %w", err)
	}
	defer mirror.Close()

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	roster := postgres.NewEmployeeRepository(pool)

	active, err := mirror.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing HR employees: %w", err)
	}

	for i := range active {
		if err := roster.Upsert(ctx, &active[i]); err != nil {
			return fmt.Errorf("upserting employee %s: %w", active[i].ID, err)
		}
	}
	fmt.Printf("Synced %d active employee(s) from HR\n", len(active))

	if !mustGetBool(cmd, "prune") {
		return nil
	}

	inHR := make(map[string]bool, len(active))
	for _, e := range active {
		inHR[e.ID] = true
	}

	local, err := roster.List(ctx)
	if err != nil {
		return fmt.Errorf("listing local employees: %w", err)
	}

	templates := postgres.NewTemplateRepository(pool)
	pruned := 0
	for _, e := range local {
		if inHR[e.ID] {
			continue
		}
		if err := templates.DeleteEmployee(ctx, e.ID); err != nil {
			return fmt.Errorf("deleting templates for %s: %w", e.ID, err)
		}
		if err := roster.Delete(ctx, e.ID); err != nil {
			return fmt.Errorf("deleting employee %s: %w", e.ID, err)
		}
		fmt.Printf("Pruned %s (%s)\n", e.ID, e.FullName)
		pruned++
	}
	fmt.Printf("Pruned %d employee(s) no longer in HR\n", pruned)
	return nil
}
