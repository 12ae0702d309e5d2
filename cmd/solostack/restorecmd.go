package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/solostack/kernel/internal/backup"
	"github.com/spf13/cobra"
)

var (
	restoreBackupDirFlag string
	restoreForceFlag     bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore preflight and destructive restore (C10)",
}

var restorePreflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Report whether a force restore is required (§4.9 restore_preflight)",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := backup.Preflight(db, restoreBackupDirFlag)
		if err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
		return printJSON(result)
	},
}

var restoreApplyCmd = &cobra.Command{
	Use:   "apply <backup-file>",
	Short: "Restore the store from a backup file, refusing without --force when unsafe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read backup file %s: %w", args[0], err)
		}
		var b backup.Backup
		if err := json.Unmarshal(buf, &b); err != nil {
			return fmt.Errorf("parse backup file %s: %w", args[0], err)
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := backup.Restore(db, b, restoreForceFlag); err != nil {
			return err
		}
		return printJSON(map[string]any{"restored_from": args[0], "task_count": len(b.Data.Tasks), "force": restoreForceFlag})
	},
}

func init() {
	restorePreflightCmd.Flags().StringVar(&restoreBackupDirFlag, "backup-dir", "", "directory to scan for the latest backup file")
	restoreApplyCmd.Flags().BoolVar(&restoreForceFlag, "force", false, "truncate the live store and replace it even with pending outbox changes or open conflicts")
	restoreCmd.AddCommand(restorePreflightCmd, restoreApplyCmd)
	rootCmd.AddCommand(restoreCmd)
}
