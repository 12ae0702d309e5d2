package main

import (
	"fmt"

	"github.com/solostack/kernel/internal/conflict"
	"github.com/solostack/kernel/internal/resolution"
	"github.com/spf13/cobra"
)

var resolveMergedText string

var resolveCmd = &cobra.Command{
	Use:   "resolve <conflict_id> <strategy>",
	Short: "Resolve a conflict (C7): strategy is keep_local, keep_remote, manual_merge, retry, or ignore",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conflictID, strategy := args[0], args[1]

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		deviceID, err := db.DeviceID()
		if err != nil {
			return err
		}

		payload := map[string]any{}
		if resolveMergedText != "" {
			payload["merged_text"] = resolveMergedText
		}

		engine := resolution.New(db)
		err = engine.Resolve(resolution.Input{
			ConflictID:        conflictID,
			Strategy:          conflict.Strategy(strategy),
			ResolutionPayload: payload,
			ResolvedByDevice:  deviceID,
		})
		if err != nil {
			return fmt.Errorf("resolve %s: %w", conflictID, err)
		}
		status := string(conflict.StatusResolved)
		if conflict.Strategy(strategy) == conflict.StrategyIgnore {
			status = string(conflict.StatusIgnored)
		}
		return printJSON(map[string]string{"conflict_id": conflictID, "strategy": strategy, "status": status})
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveMergedText, "merged-text", "", "merged note text, required for strategy=manual_merge")
	rootCmd.AddCommand(resolveCmd)
}
