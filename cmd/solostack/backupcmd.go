package main

import (
	"fmt"
	"time"

	"github.com/solostack/kernel/internal/backup"
	"github.com/spf13/cobra"
)

var backupDirFlag string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export the full store (C10)",
}

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a full backup document to --dir",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		b, err := backup.Export(db, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("export backup: %w", err)
		}

		path, err := backup.WriteFile(b, backupDirFlag)
		if err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
		return printJSON(map[string]any{"path": path, "exported_at": b.ExportedAt, "task_count": len(b.Data.Tasks)})
	},
}

var backupConflictReportCmd = &cobra.Command{
	Use:   "conflict-report",
	Short: "Write the open-conflicts report to --dir",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		path, err := backup.ExportConflictReport(db, backupDirFlag, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("export conflict report: %w", err)
		}
		return printJSON(map[string]string{"path": path})
	},
}

func init() {
	backupCmd.PersistentFlags().StringVar(&backupDirFlag, "dir", ".", "directory to write the backup/report file to")
	backupCmd.AddCommand(backupExportCmd, backupConflictReportCmd)
	rootCmd.AddCommand(backupCmd)
}
