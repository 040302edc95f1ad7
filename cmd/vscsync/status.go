package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/midah/vscsync/internal/logging"
	"github.com/midah/vscsync/internal/marker"
	"github.com/midah/vscsync/internal/syncer"
	"github.com/midah/vscsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show marker state and pending sources",
	Long: `Display what vscsync knows about each source: when it was last
exported and whether it has changed since.

Example usage:
  vscsync status`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}

		store := marker.Load(cfg.StatePath("markers.json"), logging.Discard())

		s := syncer.New(cfg, &syncer.Options{Logger: logging.Discard()})
		pending, err := s.Changed(cmd.Context())
		if err != nil {
			fatal("%v", err)
		}
		pendingNames := make(map[string]bool, len(pending))
		for _, src := range pending {
			pendingNames[src.Name] = true
		}

		fmt.Printf("\nBase dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Output dir: %s\n", cfg.Resolve(cfg.OutputDir))
		fmt.Printf("Markers:    %d source(s) recorded\n\n", store.Len())

		if len(cfg.Sources) == 0 && len(cfg.Discover) == 0 {
			fmt.Printf("%s No sources configured, run 'vscsync init'\n\n", ui.RenderWarn("⚠"))
			return
		}

		for _, src := range cfg.Sources {
			resolved := cfg.Resolve(src.Path)
			if _, err := os.Stat(resolved); err != nil {
				fmt.Printf("  %s %s %s\n", ui.RenderWarn("⚠"), src.Name, ui.RenderDim("(database missing)"))
				continue
			}

			cursor, known := store.Cursor(resolved)
			switch {
			case pendingNames[src.Name]:
				fmt.Printf("  %s %s %s\n", ui.RenderAccent("●"), src.Name, ui.RenderDim("(changed, pending export)"))
			case known:
				fmt.Printf("  %s %s %s\n", ui.RenderPass("✓"), src.Name,
					ui.RenderDim(fmt.Sprintf("(synced %s)", cursor.SyncedAt.Local().Format("2006-01-02 15:04:05"))))
			default:
				fmt.Printf("  %s %s %s\n", ui.RenderAccent("●"), src.Name, ui.RenderDim("(never exported)"))
			}
		}

		for _, rule := range cfg.Discover {
			fmt.Printf("  %s discover %s/%s\n", ui.RenderDim("·"), rule.Dir, rule.Pattern)
		}

		if len(pending) > 0 {
			fmt.Printf("\n%d source(s) pending, run 'vscsync sync'\n\n", len(pending))
		} else {
			fmt.Printf("\n%s Everything up to date\n\n", ui.RenderPass("✓"))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
