// Command hivesync synchronizes hivecad documents between the local
// store, a git-object remote store, and the searchable metadata index.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "hivesync",
	Short: "Sync hivecad documents across devices",
	Long: `hivesync keeps hivecad CAD documents synchronized.

Documents live in three places:
  - a local document database (always available, works offline)
  - a git-object remote store reached over HTTP (durable, shared)
  - a metadata index powering search and discovery

The sync engine reconciles the three on a timer or on demand. Local
deletions propagate outward through tombstones; remote documents unknown
locally are pulled in.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "",
		"directory containing hivesync.yaml (default: . and ~/.hivesync)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
