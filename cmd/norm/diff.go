package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/syssam/norm/dialect/sql/schema"
)

var (
	allowDropColumn bool
	allowDropIndex  bool
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Diff the declared schema against the database and write migration scripts",
	RunE: func(cmd *cobra.Command, args []string) error {
		drv, err := openDriver()
		if err != nil {
			return err
		}
		defer drv.Close()
		tables, err := loadTables(schemaFile, drv.Dialect())
		if err != nil {
			return err
		}
		m := schema.NewMigrate(drv,
			schema.WithDropColumn(allowDropColumn),
			schema.WithDropIndex(allowDropIndex),
		)
		plan, err := m.Plan(context.Background(), tables...)
		if err != nil {
			return err
		}
		if len(plan.Changes) == 0 {
			color.Green("schema is up to date")
			return nil
		}
		up, down, err := m.WriteFiles(migrationDir, plan)
		if err != nil {
			return err
		}
		fmt.Println("wrote", up)
		fmt.Println("wrote", down)
		color.Green("%d changes planned", len(plan.Changes))
		return nil
	},
}

func init() {
	diffCmd.Flags().BoolVar(&allowDropColumn, "drop-column", false, "allow dropping database columns absent from the declared schema")
	diffCmd.Flags().BoolVar(&allowDropIndex, "drop-index", false, "allow dropping database indexes absent from the declared schema")
}
