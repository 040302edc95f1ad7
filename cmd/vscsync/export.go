package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/midah/vscsync/internal/config"
	"github.com/midah/vscsync/internal/export"
	"github.com/midah/vscsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <database>",
	GroupID: "sync",
	Short:   "Export a single SQLite database to JSON or JSONL",
	Long: `Export one SQLite database to a JSON or JSONL file, without touching
markers or configuration. This is the one-shot path: point it at a
database, get a file.

By default every table is exported. Binary values are base64-encoded so
they survive the trip; rows the driver cannot type are stringified
rather than dropped.

Example usage:
  vscsync export ~/.config/Code/User/globalStorage/state.vscdb
  vscsync export state.vscdb -o state.jsonl --format jsonl
  vscsync export state.vscdb --tables ItemTable,cursorDiskKV`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dbPath := args[0]
		outPath, _ := cmd.Flags().GetString("output")
		formatStr, _ := cmd.Flags().GetString("format")
		tablesStr, _ := cmd.Flags().GetString("tables")

		format := config.Format(formatStr)
		if !format.Valid() {
			fatal("unknown format %q (want json or jsonl)", formatStr)
		}

		if outPath == "" {
			base := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
			ext := ".json"
			if format == config.FormatJSONL {
				ext = ".jsonl"
			}
			outPath = base + ext
		}

		var tables []string
		if tablesStr != "" {
			tables = strings.Split(tablesStr, ",")
		}

		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}
		loggerFor, closeLogs := setupLogging(cfg)
		defer closeLogs()

		exporter := export.New(loggerFor("[export] "))
		stats, err := exporter.Export(cmd.Context(), dbPath, outPath, format, tables)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Exported %d rows from %d tables -> %s\n",
			ui.RenderPass("✓"), stats.Rows, stats.Tables, outPath)
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: database name with format extension)")
	exportCmd.Flags().String("format", "json", "Output format: json or jsonl")
	exportCmd.Flags().String("tables", "", "Comma-separated table subset (default: all tables)")

	rootCmd.AddCommand(exportCmd)
}
