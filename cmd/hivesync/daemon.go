package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dafiiit/hivecad-sync/internal/statusserver"
	"github.com/dafiiit/hivecad-sync/internal/thumbs"
)

var daemonForeground bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon until interrupted.

The daemon:
  1. Syncs on a timer (sync.interval, default 30s)
  2. Watches the thumbnail cache for new previews
  3. Serves sync state on the local status port (/state, /ws)

Logs rotate via the configured log file. Use --foreground to also log
to stderr while debugging.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newCommandLogger("[daemon] ")

		env, cleanup, err := openEnvironment(logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		// Rotated file logging; stderr stays attached in foreground mode.
		rotated := &lumberjack.Logger{
			Filename:   env.cfg.LogPath(),
			MaxSize:    env.cfg.Log.MaxSizeMB,
			MaxBackups: env.cfg.Log.MaxBackups,
		}
		defer rotated.Close()

		var sink io.Writer = rotated
		if daemonForeground {
			sink = io.MultiWriter(os.Stderr, rotated)
		}
		logger.SetOutput(sink)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Status server.
		var server *statusserver.Server
		if env.cfg.Status.Enabled {
			server = statusserver.NewServer(env.engine, statusserver.Config{
				Port:   env.cfg.Status.Port,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting status server: %v\n", err)
				os.Exit(1)
			}
			defer server.Stop()

			unsubscribe := env.engine.Subscribe(server.Publish)
			defer unsubscribe()
		}

		// Thumbnail watcher: a freshly rendered preview triggers a sync
		// so it uploads promptly instead of waiting for the timer.
		watcher, err := thumbs.NewWatcher()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating thumbnail watcher: %v\n", err)
			os.Exit(1)
		}
		if err := watcher.Start(env.thumbs); err != nil {
			fmt.Fprintf(os.Stderr, "Error watching thumbnail cache: %v\n", err)
			os.Exit(1)
		}
		defer watcher.Stop()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events():
					if !ok {
						return
					}
					if event.Op == thumbs.OpWrite {
						logger.Printf("Thumbnail updated for %s, triggering sync", event.ID)
						_ = env.engine.SyncNow(ctx)
					}
				case err, ok := <-watcher.Errors():
					if !ok {
						return
					}
					logger.Printf("Thumbnail watcher error: %v", err)
				}
			}
		}()

		env.engine.Start(ctx)
		defer env.engine.Stop()

		logger.Printf("Daemon started (interval %s, data %s)", env.cfg.Sync.Interval, env.cfg.DataDir)
		if server != nil {
			logger.Printf("Status server on %s", server.Addr())
		}

		// Initial cycle so pending changes do not wait a full interval.
		_ = env.engine.SyncNow(ctx)

		<-ctx.Done()
		logger.Println("Shutting down")

		if err := env.engine.WaitForIdle(30 * time.Second); err != nil {
			logger.Printf("Forcing shutdown: %v", err)
		}
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground", false,
		"also log to stderr")
	rootCmd.AddCommand(daemonCmd)
}
