package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markerrelay/relay/internal/database"
	gormstorage "github.com/markerrelay/relay/internal/storage/gorm"
	"github.com/markerrelay/relay/internal/storage/memory"
)

var (
	historyDB      string
	historyOut     string
	historySession string
	historyGzip    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Work with recorded marker history",
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a session from a SQLite history dump to JSON",
	Long: `Export reads one session from a SQLite history database written by the
sqlite storage backend and writes it in the same JSON format as the memory
backend.

Examples:
  marker_relay history export --db history.db --out session.json
  marker_relay history export --db history.db --session 1b4e28ba-2fa1-11d2-883f-0016d3cca427 --gzip`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := exportHistory(historyDB, historySession, historyOut, historyGzip)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote history to", path)
		return nil
	},
}

// exportHistory writes one session of dbPath as JSON. An empty out names the
// file after the session in the current directory.
func exportHistory(dbPath, sessionID, out string, compress bool) (string, error) {
	db, err := database.OpenSQLite(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to open history database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	h, err := gormstorage.LoadHistory(db, sessionID)
	if err != nil {
		return "", err
	}
	export := memory.Build(h.Session, h.Transitions, h.Cycles, h.Snapshots)

	if out == "" {
		return memory.WriteExport(".", export, compress)
	}
	if err := memory.WriteFile(out, export, compress); err != nil {
		return "", err
	}
	return out, nil
}

func init() {
	historyExportCmd.Flags().StringVar(&historyDB, "db", "", "SQLite history database")
	historyExportCmd.Flags().StringVarP(&historyOut, "out", "o", "", "Output file (default: named after the session)")
	historyExportCmd.Flags().StringVar(&historySession, "session", "", "Session ID (default: most recent)")
	historyExportCmd.Flags().BoolVar(&historyGzip, "gzip", false, "Gzip the output")
	_ = historyExportCmd.MarkFlagRequired("db")

	historyCmd.AddCommand(historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}
