package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Long: `Run a single reconciliation cycle and exit.

The cycle propagates local deletions, pushes local documents to the
remote store, and pulls documents that exist remotely but not locally.
Individual document failures are reported but do not fail the cycle.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newCommandLogger("[sync] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		start := time.Now()
		if err := env.engine.SyncNow(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		state := env.engine.State()
		if state.Status == document.StatusOffline {
			fmt.Printf("Remote store unreachable, nothing synced (local data is safe)\n")
			return
		}

		stats := env.engine.LastStats()
		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Pushed:  %d\n", stats.Pushed)
		fmt.Printf("   Pulled:  %d\n", stats.Pulled)
		fmt.Printf("   Deleted: %d\n", stats.Deleted)
		if stats.Skipped > 0 {
			fmt.Printf("   Skipped: %d (corrupt remote data)\n", stats.Skipped)
		}
		if stats.ItemErrors > 0 {
			fmt.Printf("   Errors:  %d (see log for details)\n", stats.ItemErrors)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
