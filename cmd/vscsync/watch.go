package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/midah/vscsync/internal/daemon"
	"github.com/midah/vscsync/internal/events"
	"github.com/midah/vscsync/internal/syncer"
	"github.com/midah/vscsync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Watch source databases and keep exports current",
	Long: `Run continuously: watch the source databases for writes and re-export
them as they change, with a full pass on a jittered interval as a
safety net.

Filesystem events are debounced so a burst of SQLite writes (main
file, WAL, SHM) settles into a single export. The schedule comes from
the config:

  scheduler:
    interval: 5m     # full pass period
    jitter:   30s    # random spread added to each tick
    debounce: 5s     # quiet time before a watched change syncs

With events enabled, a WebSocket server broadcasts sync activity and
POST /trigger forces a pass out of schedule:

  events:
    enabled: true
    port:    8080

Example usage:
  vscsync watch
  vscsync watch --once        # single full pass, then exit`,
	Run: func(cmd *cobra.Command, args []string) {
		once, _ := cmd.Flags().GetBool("once")

		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}
		loggerFor, closeLogs := setupLogging(cfg)
		defer closeLogs()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		var server *events.Server
		opts := &syncer.Options{Logger: loggerFor("[sync] ")}
		if cfg.Events.Enabled && !once {
			opts.OnEvent = func(ev syncer.Event) {
				if server != nil {
					server.Publish(ev)
				}
			}
		}

		s := syncer.New(cfg, opts)

		if once {
			if _, err := s.SyncAll(ctx); err != nil {
				fatal("%v", err)
			}
			return
		}

		d, err := daemon.New(cfg, s, loggerFor("[daemon] "))
		if err != nil {
			fatal("%v", err)
		}

		if cfg.Events.Enabled {
			server = events.NewServer(&events.Config{
				Port:    cfg.Events.Port,
				Trigger: d.Trigger,
				Logger:  loggerFor("[events] "),
			})
			if err := server.Start(); err != nil {
				fatal("%v", err)
			}
			defer server.Stop()
			fmt.Printf("%s Event server on ws://%s/ws\n", ui.RenderAccent("●"), server.Addr())
		}

		fmt.Printf("%s Watching %d source(s), Ctrl+C to stop\n",
			ui.RenderAccent("●"), len(cfg.Sources)+len(cfg.Discover))

		if err := d.Start(ctx); err != nil {
			fatal("%v", err)
		}
	},
}

func init() {
	watchCmd.Flags().Bool("once", false, "Run one full sync pass and exit")

	rootCmd.AddCommand(watchCmd)
}
