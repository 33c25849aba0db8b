package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetRemoteCmd = &cobra.Command{
	Use:   "reset-remote",
	Short: "Remove every document from the remote store",
	Long: `Remove all documents and thumbnails from the remote store.

Local documents are untouched; the next sync pushes them back. The
removal happens in one atomic commit, so other devices never observe a
half-reset remote.

Sync is suspended for the duration so a concurrent cycle cannot race
the reset.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !resetYes {
			fmt.Fprintf(os.Stderr, "This removes every remote document. Re-run with --yes to confirm.\n")
			os.Exit(1)
		}

		logger := newCommandLogger("[reset] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		ctx := cmd.Context()
		if err := env.remote.Connect(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to remote store: %v\n", err)
			os.Exit(1)
		}

		env.engine.Suspend()
		if err := env.engine.WaitForIdle(30 * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := env.remote.ResetAll(ctx); err != nil {
			env.engine.Resume(ctx)
			fmt.Fprintf(os.Stderr, "Error resetting remote store: %v\n", err)
			os.Exit(1)
		}
		env.engine.Resume(ctx)

		fmt.Println("Remote store reset. Local documents will re-upload on the next sync.")
	},
}

func init() {
	resetRemoteCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm the reset")
	rootCmd.AddCommand(resetRemoteCmd)
}
