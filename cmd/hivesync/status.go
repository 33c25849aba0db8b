package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dafiiit/hivecad-sync/internal/config"
	"github.com/dafiiit/hivecad-sync/internal/statusserver"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync daemon status",
	Long: `Display the sync engine's current state.

Queries the running daemon's status server. If no daemon is running the
command reports that instead of failing.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		client := &http.Client{Timeout: 3 * time.Second}
		url := fmt.Sprintf("http://127.0.0.1:%d/state", cfg.Status.Port)

		resp, err := client.Get(url)
		if err != nil {
			fmt.Printf("Daemon not running (no status server on port %d)\n", cfg.Status.Port)
			fmt.Printf("Start it with: hivesync daemon\n")
			return
		}
		defer resp.Body.Close()

		var msg statusserver.Message
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding daemon response: %v\n", err)
			os.Exit(1)
		}

		switch statusFormat {
		case "json":
			out, err := json.MarshalIndent(msg, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(out))

		case "yaml":
			out, err := yaml.Marshal(msg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(string(out))

		default:
			printStatus(msg)
		}
	},
}

func printStatus(msg statusserver.Message) {
	fmt.Printf("Status: %s\n", msg.State.Status)
	if msg.State.LastSyncTime > 0 {
		last := time.UnixMilli(msg.State.LastSyncTime)
		fmt.Printf("Last sync: %s (%s ago)\n",
			last.Format("2006-01-02 15:04:05"),
			time.Since(last).Round(time.Second))
	} else {
		fmt.Printf("Last sync: never\n")
	}
	fmt.Printf("Pending changes: %v\n", msg.State.HasPendingChanges)
	if msg.State.WouldLoseData {
		fmt.Printf("Warning: local changes not yet durable remotely\n")
	}
	if msg.State.LastError != "" {
		fmt.Printf("Last error: %s\n", msg.State.LastError)
	}
	fmt.Printf("Last cycle: pushed=%d pulled=%d deleted=%d errors=%d\n",
		msg.Stats.Pushed, msg.Stats.Pulled, msg.Stats.Deleted, msg.Stats.ItemErrors)
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "text",
		"output format: text, json, or yaml")
	rootCmd.AddCommand(statusCmd)
}
