package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"dailystory/internal/store"
)

var (
	sqlitePath   string
	recordsLimit int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect the SQLite record store",
}

var recordsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the newest records",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.OpenSQLite(sqlitePath, false)
		if err != nil {
			return err
		}
		defer s.Close()
		rows, err := s.Recent(cmd.Context(), recordsLimit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(cmd.OutOrStdout(), "%d  %s  %-18s  %s\n", r.ID, r.Date, r.Runner, r.ImagePath)
		}
		return nil
	},
}

var recordsExportCmd = &cobra.Command{
	Use:   "export <id> <file>",
	Short: "Write the stored artifact bytes of a record to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid record id %q", args[0])
		}
		s, err := store.OpenSQLite(sqlitePath, false)
		if err != nil {
			return err
		}
		defer s.Close()

		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		if err := s.ExportArtifact(cmd.Context(), id, f); err != nil {
			f.Close()
			os.Remove(args[1])
			return err
		}
		return f.Close()
	},
}

func init() {
	recordsCmd.PersistentFlags().StringVar(&sqlitePath, "db", envOr("SQLITE_PATH", "daily_images.db"), "Path to the SQLite database")
	recordsRecentCmd.Flags().IntVar(&recordsLimit, "limit", 20, "Max rows")
	recordsCmd.AddCommand(recordsRecentCmd, recordsExportCmd)
	rootCmd.AddCommand(recordsCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
