package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mathweuzz/Andorinha-Jobs/config"
	"github.com/Mathweuzz/Andorinha-Jobs/db"
	"github.com/Mathweuzz/Andorinha-Jobs/errors"
	"github.com/Mathweuzz/Andorinha-Jobs/logger"
	"github.com/Mathweuzz/Andorinha-Jobs/queue"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Andorinha database",
	Long: `db — Manage Andorinha database operations

Examples:
  andorinha db migrate    # Create or update the schema (idempotent)
  andorinha db stats      # Show job counts and schema version`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long:  "Bring the database schema up to date. Safe to run on every startup.",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

// openDatabase opens the configured database with migrations applied.
func openDatabase() (*sql.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}

	return database, cfg, nil
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	version, err := db.SchemaVersion(database)
	if err != nil {
		return err
	}

	fmt.Printf("Database:       %s\n", cfg.Database.Path)
	fmt.Printf("Schema version: %s\n", version)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	version, err := db.SchemaVersion(database)
	if err != nil {
		return err
	}

	stats, err := queue.NewStore(database).GetStats()
	if err != nil {
		return errors.Wrap(err, "failed to read job stats")
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:  %s\n", cfg.Database.Path)
	fmt.Printf("Schema Version: %s\n\n", version)
	fmt.Printf("Jobs by status:\n")
	fmt.Printf("  queued:    %d\n", stats.Queued)
	fmt.Printf("  leased:    %d\n", stats.Leased)
	fmt.Printf("  succeeded: %d\n", stats.Succeeded)
	fmt.Printf("  failed:    %d\n", stats.Failed)
	fmt.Printf("  canceled:  %d\n", stats.Canceled)
	fmt.Printf("  total:     %d\n", stats.Total)
	return nil
}
