package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local documents",
	Run: func(cmd *cobra.Command, args []string) {
		logger := newCommandLogger("[list] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		metas, err := env.local.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing documents: %v\n", err)
			os.Exit(1)
		}

		if len(metas) == 0 {
			fmt.Println("No local documents")
			return
		}

		for _, meta := range metas {
			modified := time.UnixMilli(meta.LastModified).Format("2006-01-02 15:04")
			line := fmt.Sprintf("%s  %-30s %s", meta.ID, meta.Name, modified)
			if meta.Folder != "" {
				line += "  " + meta.Folder
			}
			fmt.Println(line)
		}
		fmt.Printf("\n%d document(s)\n", len(metas))
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the metadata index",
	Long: `Search documents by name or description substring.

Results come from the local metadata index: own documents plus public
documents the index has seen. Run a sync first if the index looks stale.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newCommandLogger("[search] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		metas, err := env.index.Search(cmd.Context(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error searching: %v\n", err)
			os.Exit(1)
		}

		if len(metas) == 0 {
			fmt.Println("No matches")
			return
		}
		for _, meta := range metas {
			desc := meta.Description
			if len(desc) > 60 {
				desc = desc[:57] + "..."
			}
			fmt.Printf("%s  %-30s %s\n", meta.ID, meta.Name, desc)
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <document-id>",
	Short: "Show a document's local save history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newCommandLogger("[history] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		entries, err := env.local.History(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if len(entries) == 0 {
			fmt.Println("No history")
			return
		}
		for _, entry := range entries {
			saved := time.UnixMilli(entry.SavedAt).Format("2006-01-02 15:04:05")
			fmt.Printf("%6d  %s  %s\n", entry.Seq, saved, entry.Message)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document",
	Long: `Delete a document from the local store.

A tombstone is written before the document is removed, so the deletion
propagates to the remote store and the metadata index on the next sync
instead of the document reappearing.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newCommandLogger("[delete] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		id := args[0]
		if _, err := env.local.Load(id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := env.local.Delete(id); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting document: %v\n", err)
			os.Exit(1)
		}
		if err := env.thumbs.Delete(id); err != nil {
			logger.Printf("Failed to remove cached thumbnail: %v", err)
		}

		fmt.Printf("Deleted %s (propagates on next sync)\n", id)
	},
}

var (
	importName   string
	importFolder string
)

var importCmd = &cobra.Command{
	Use:   "import <code-file>",
	Short: "Import a code file as a new document",
	Long: `Create a new local document from a hivecad code file.

The document gets a fresh id and an empty geometry snapshot; the next
sync pushes it to the remote store.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logger := newCommandLogger("[import] ")

		code, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", args[0], err)
			os.Exit(1)
		}

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		name := importName
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		now := document.NowMillis()
		bundle := &document.Bundle{
			Meta: &document.Meta{
				ID:           document.NewID(),
				Name:         name,
				OwnerID:      env.ident.CurrentUserID(),
				OwnerEmail:   env.ident.CurrentUserEmail(),
				Visibility:   document.VisibilityPrivate,
				Folder:       importFolder,
				CreatedAt:    now,
				LastModified: now,
			},
			Snapshot: &document.Snapshot{
				Code:          string(code),
				Objects:       json.RawMessage(`[]`),
				SchemaVersion: document.CurrentSchemaVersion,
			},
			Namespaces: &document.Namespaces{Entries: map[string]json.RawMessage{}},
		}

		if err := env.local.SaveWithMessage(bundle, "import "+name); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving document: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Imported %s as %s\n", args[0], bundle.Meta.ID)
	},
}

func init() {
	importCmd.Flags().StringVar(&importName, "name", "", "document name (default: file name)")
	importCmd.Flags().StringVar(&importFolder, "folder", "", "folder path for the document")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(importCmd)
}
