package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
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
		color.Green("applied migrations:")
		for _, name := range applied {
			fmt.Println("  -", name)
		}
		if len(applied) == 0 {
			fmt.Println("  (none)")
		}
		color.Yellow("pending migrations:")
		for _, name := range pending {
			fmt.Println("  -", name)
		}
		if len(pending) == 0 {
			fmt.Println("  (none)")
		}
		return nil
	},
}
