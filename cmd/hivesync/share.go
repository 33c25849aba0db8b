package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

var shareCmd = &cobra.Command{
	Use:   "share <document-id> <public|private>",
	Short: "Change a document's visibility",
	Long: `Set who can discover a document through the metadata index.

Public documents appear in other users' search results; private
documents are discoverable only by their owner.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var visibility document.Visibility
		switch args[1] {
		case "public":
			visibility = document.VisibilityPublic
		case "private":
			visibility = document.VisibilityPrivate
		default:
			fmt.Fprintf(os.Stderr, "Error: visibility must be public or private, got %q\n", args[1])
			os.Exit(1)
		}

		logger := newCommandLogger("[share] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		id := args[0]
		ctx := cmd.Context()

		if err := env.index.SetVisibility(ctx, id, visibility); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Keep the local copy in step so the next push does not flip it back.
		if bundle, err := env.local.Load(id); err == nil {
			bundle.Meta.Visibility = visibility
			if err := env.local.SaveWithMessage(bundle, "set visibility "+args[1]); err != nil {
				logger.Printf("Failed to update local copy: %v", err)
			}
		}

		fmt.Printf("Document %s is now %s\n", id, visibility)
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock <document-id>",
	Short: "Acquire the edit lock on a document",
	Long: `Try to acquire the advisory edit lock for the current user.

The lock is an atomic conditional claim in the metadata index: exactly
one holder wins, others are told who holds it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newCommandLogger("[lock] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		holder := env.ident.CurrentUserID()
		if holder == "" {
			fmt.Fprintf(os.Stderr, "Error: locking requires a signed-in identity\n")
			os.Exit(1)
		}

		id := args[0]
		ctx := cmd.Context()

		acquired, err := env.index.AcquireLock(ctx, id, holder)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !acquired {
			meta, err := env.index.Get(ctx, id)
			if err == nil && meta.LockedBy != "" && meta.LockedBy != holder {
				fmt.Printf("Document %s is locked by %s\n", id, meta.LockedBy)
			} else {
				fmt.Printf("Document %s could not be locked\n", id)
			}
			os.Exit(1)
		}

		fmt.Printf("Locked %s\n", id)
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <document-id>",
	Short: "Release the edit lock on a document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newCommandLogger("[unlock] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		if err := env.index.ReleaseLock(cmd.Context(), args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Unlocked %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
}
