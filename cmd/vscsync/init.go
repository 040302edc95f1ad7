package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/midah/vscsync/internal/config"
	"github.com/midah/vscsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Write a starter vscsync.yaml",
	Long: `Create a starter configuration file in the current directory.

The generated file contains one example source and one discovery rule;
edit the paths to match your IDE's storage layout, then run
'vscsync sync'.

Example usage:
  vscsync init
  vscsync init --force      # overwrite an existing vscsync.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := "vscsync.yaml"
		if flagConfig != "" {
			path = flagConfig
		}

		if _, err := os.Stat(path); err == nil && !force {
			fatal("%s already exists (use --force to overwrite)", path)
		}

		cfg := config.Default()
		cfg.Sources = []config.SourceConfig{
			{
				Name:   "global-state",
				Path:   "globalStorage/state.vscdb",
				Format: config.FormatJSON,
			},
			{
				Name:   "prompts",
				Path:   "prompts.db",
				Format: config.FormatJSONL,
				Incremental: &config.IncrementalConfig{
					Table: "prompts",
					Key:   "id",
				},
			},
		}
		cfg.Discover = []config.DiscoverRule{
			{
				Dir:     "workspaceStorage",
				Pattern: "*/state.vscdb",
				Format:  config.FormatJSON,
			},
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			fatal("failed to render config: %v", err)
		}

		header := []byte("# vscsync configuration. Paths are relative to base_dir.\n" +
			"# Every value can be overridden with VSCSYNC_* environment variables.\n")
		if err := os.WriteFile(path, append(header, data...), 0644); err != nil {
			fatal("failed to write %s: %v", path, err)
		}

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Println("  Edit the source paths, then run 'vscsync sync'")
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	rootCmd.AddCommand(initCmd)
}
