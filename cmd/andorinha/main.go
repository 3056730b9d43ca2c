package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mathweuzz/Andorinha-Jobs/cmd/andorinha/commands"
	"github.com/Mathweuzz/Andorinha-Jobs/config"
	"github.com/Mathweuzz/Andorinha-Jobs/logger"
)

var rootCmd = &cobra.Command{
	Use:   "andorinha",
	Short: "Andorinha - persistent work queue",
	Long: `Andorinha - a persistent, lease-based work queue on SQLite.

Producers enqueue jobs; workers acquire exclusive, time-bounded leases,
do the work, and report success or failure.

Examples:
  andorinha db migrate                 # Create or update the schema
  andorinha enqueue --payload '{"n":1}' --queue mail
  andorinha jobs ls --status queued    # List queued jobs
  andorinha work --queue mail          # Run a worker
  andorinha db stats                   # Show job counts per status`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.EnqueueCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.WorkCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
