package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/delegate/internal/store"
)

var (
	statsJSON  bool
	statsPurge time.Duration
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the persisted metric event log",
	Long: `Read the sqlite event log written when metrics.persist is enabled and print
invocations, failures, cache hits, duration, consumption and savings per
task type and executor. Nothing is executed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := storePath(cfg)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("no event log at %s (enable metrics.persist): %w", path, err)
		}

		db, err := store.OpenMigrated(path)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := commandContext(cmd)
		if statsPurge > 0 {
			n, err := db.PurgeEventsBefore(ctx, time.Now().Add(-statsPurge))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "purged %d events older than %s\n", n, statsPurge)
		}

		records, err := db.AggregateMetrics(ctx)
		if err != nil {
			return err
		}
		if statsJSON {
			return writeJSON(cmd.OutOrStdout(), records)
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no events recorded")
			return nil
		}
		printMetrics(cmd.OutOrStdout(), records)
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print records as JSON")
	statsCmd.Flags().DurationVar(&statsPurge, "purge-older-than", 0, "Delete events older than this before reporting")
}
