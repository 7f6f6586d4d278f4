// Command norm is the schema-synchronization CLI: it diffs a declared
// schema against the connected database and writes, applies and rolls
// back timestamped migration scripts.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/syssam/norm/dialect/sql"
)

var (
	schemaFile   string
	migrationDir string
	dialectName  string
)

var rootCmd = &cobra.Command{
	Use:   "norm",
	Short: "Schema synchronization for declared models",
	Long: `norm diffs a declared schema against the connected database and
manages the resulting migration scripts.

Examples:

  norm diff
  norm migrate
  norm rollback --steps=2
  norm status
`,
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "loading .env:", err)
	}
	if err := rootCmd.Execute(); err != nil {
		color.Red("%v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&schemaFile, "schema", "schema.yaml", "declared schema file")
	rootCmd.PersistentFlags().StringVar(&migrationDir, "dir", "migrations", "migration script directory")
	rootCmd.PersistentFlags().StringVar(&dialectName, "dialect", "", "database dialect (mysql, postgres, sqlite); derived from DATABASE_URL when empty")
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(statusCmd)
}

// openDriver connects using DATABASE_URL and the selected dialect.
func openDriver() (*sql.Driver, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL not set (in .env or environment)")
	}
	d := dialectName
	if d == "" {
		d = dialectFromURL(url)
	}
	if d == "" {
		return nil, fmt.Errorf("cannot derive dialect from DATABASE_URL; pass --dialect")
	}
	return sql.Open(d, sourceFromURL(d, url))
}
