package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rollbackSteps int

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the most recent migrations",
	Long: `Roll back the last migration or multiple migrations using their
down scripts.

Examples:
  norm rollback            # roll back the last migration
  norm rollback --steps=3  # roll back the last 3 migrations
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if rollbackSteps < 1 {
			return fmt.Errorf("steps must be at least 1")
		}
		ctx := context.Background()
		drv, err := openDriver()
		if err != nil {
			return err
		}
		defer drv.Close()
		if err := ensureLedger(ctx, drv); err != nil {
			return err
		}
		applied, err := appliedMigrations(ctx, drv)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			color.Yellow("no applied migrations to roll back")
			return nil
		}
		steps := rollbackSteps
		if steps > len(applied) {
			steps = len(applied)
		}
		record := "DELETE FROM " + ledgerTable + " WHERE filename = " + placeholder(drv)
		// Newest first.
		for i := len(applied) - 1; i >= len(applied)-steps; i-- {
			name := applied[i]
			down := filepath.Join(migrationDir, downName(name))
			if _, err := os.Stat(down); err != nil {
				return fmt.Errorf("down script for %s: %w", name, err)
			}
			if err := applyScript(ctx, drv, down, record, []any{name}); err != nil {
				return err
			}
			fmt.Println("rolled back", name)
		}
		color.Green("rolled back %d migrations", steps)
		return nil
	},
}

func init() {
	rollbackCmd.Flags().IntVarP(&rollbackSteps, "steps", "s", 1, "number of migrations to roll back")
}
