package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migration scripts",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		pending, err := pendingScripts(migrationDir, applied)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			color.Green("nothing to migrate")
			return nil
		}
		record := "INSERT INTO " + ledgerTable + " (filename, applied_at) VALUES " + ledgerValues(drv)
		for _, name := range pending {
			args := []any{name, time.Now().UTC()}
			err := applyScript(ctx, drv, filepath.Join(migrationDir, name), record, args)
			if err != nil {
				return err
			}
			fmt.Println("applied", name)
		}
		color.Green("applied %d migrations", len(pending))
		return nil
	},
}
