package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/midah/vscsync/internal/config"
	"github.com/midah/vscsync/internal/logging"
)

var (
	flagConfig  string
	flagBaseDir string
)

var rootCmd = &cobra.Command{
	Use:   "vscsync",
	Short: "Export IDE SQLite state databases to JSON/JSONL",
	Long: `vscsync exports the SQLite databases that IDEs keep their state in
(state.vscdb, prompt history, workspace storage) to JSON or JSONL files,
and keeps those exports current.

Exports are incremental where configured: a marker file records how far
each database has been exported, so repeated runs only touch what
changed. A watch mode follows filesystem events and re-exports within
seconds of a database write.

Configuration lives in vscsync.yaml (see 'vscsync init') and every
value can be overridden with VSCSYNC_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file path (default: ./vscsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagBaseDir, "base-dir", "", "Base directory for relative paths (overrides config)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration honoring the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagBaseDir != "" {
		cfg.BaseDir = flagBaseDir
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// setupLogging wires the rotating log file from the config and returns
// a per-component logger factory plus a close function.
func setupLogging(cfg *config.Config) (func(string) *log.Logger, func() error) {
	logCfg := cfg.Log
	if logCfg.File != "" {
		logCfg.File = cfg.Resolve(logCfg.File)
	}
	return logging.Setup(logCfg)
}

// fatal prints an error the way every command reports them and exits.
func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
