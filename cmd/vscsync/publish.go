package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/midah/vscsync/internal/publish"
	"github.com/midah/vscsync/internal/ui"
)

var publishCmd = &cobra.Command{
	Use:     "publish",
	GroupID: "sync",
	Short:   "Commit and push exports to a git dataset repo",
	Long: `Stage, commit, and push the export directory to its configured git
remote, so downstream tooling can consume the exports as a dataset.

The repo directory must already be a clone with the remote set up:

  publish:
    remote:   origin
    branch:   main
    repo_dir: exports      # defaults to the output directory

A run without changes commits nothing and exits zero.

Example usage:
  vscsync publish
  vscsync publish -m "Nightly export"
  vscsync publish --no-push     # commit locally only`,
	Run: func(cmd *cobra.Command, args []string) {
		message, _ := cmd.Flags().GetString("message")
		noPush, _ := cmd.Flags().GetBool("no-push")

		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}
		loggerFor, closeLogs := setupLogging(cfg)
		defer closeLogs()

		pubCfg := cfg.Publish
		if pubCfg.Remote == "" {
			pubCfg.Remote = "origin"
		}
		if pubCfg.RepoDir == "" {
			pubCfg.RepoDir = cfg.OutputDir
		}
		pubCfg.RepoDir = cfg.Resolve(pubCfg.RepoDir)

		p := publish.New(pubCfg, loggerFor("[publish] "))

		var changed bool
		if noPush {
			changed, err = p.Commit(cmd.Context(), message)
		} else {
			changed, err = p.Publish(cmd.Context(), message)
		}
		if err != nil {
			fatal("%v", err)
		}

		if !changed {
			fmt.Printf("%s No changes to publish\n", ui.RenderDim("·"))
			return
		}
		if noPush {
			fmt.Printf("%s Committed exports (push skipped)\n", ui.RenderPass("✓"))
			return
		}
		fmt.Printf("%s Published exports to %s/%s\n", ui.RenderPass("✓"), pubCfg.Remote, pubCfg.Branch)
	},
}

func init() {
	publishCmd.Flags().StringP("message", "m", "", "Commit message (default: timestamped)")
	publishCmd.Flags().Bool("no-push", false, "Commit locally without pushing")

	rootCmd.AddCommand(publishCmd)
}
