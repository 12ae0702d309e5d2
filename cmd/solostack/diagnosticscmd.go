package main

import (
	"fmt"

	"github.com/solostack/kernel/internal/diagnostics"
	"github.com/spf13/cobra"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Report the conflict-observability aggregate (C9)",
	Long: `The cycle/success-rate aggregate (§4.8) is session-scoped and only
meaningful inside one long-running process (e.g. a daemon driving repeated
"sync" calls against a shared syncrunner.Runner) — a one-shot CLI invocation
has nothing to report there. The conflict-observability aggregate is derived
from the store directly, so it is always current.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		obs, err := diagnostics.ComputeConflictObservability(db)
		if err != nil {
			return fmt.Errorf("compute conflict observability: %w", err)
		}
		return printJSON(obs)
	},
}

func init() {
	rootCmd.AddCommand(diagnosticsCmd)
}
