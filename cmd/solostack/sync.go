package main

import (
	"fmt"

	"github.com/solostack/kernel/internal/diagnostics"
	"github.com/solostack/kernel/internal/profile"
	"github.com/solostack/kernel/internal/syncrunner"
	"github.com/solostack/kernel/internal/transport"
	"github.com/spf13/cobra"
)

var syncTransportFlag string

// memoryTransport backs `--transport=memory` demo runs. The kernel is
// specified against the abstract Transport interface only (§1); no HTTP
// binding ships here, so this is the sole transport this build can drive —
// a fresh, empty counterpart each process, useful for exercising the full
// push/pull/apply code path, not for multi-device sync.
var memoryTransport = transport.NewMemory()

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle (C8)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncTransportFlag != "memory" {
			return fmt.Errorf("unsupported transport %q: this build ships only the in-memory reference transport (§1 scopes the HTTP client out); supply your own Transport for production use", syncTransportFlag)
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		deviceID, err := db.DeviceID()
		if err != nil {
			return err
		}

		diag := diagnostics.New()
		runner := syncrunner.New(db, deviceID, memoryTransport, diag)
		p, clamped := profile.Normalize(profile.Default())
		for _, c := range clamped {
			diag.RecordValidationRejected(fmt.Sprintf("%s clamped from %s to %s", c.Field, c.Original, c.Clamped))
		}

		summary, err := runner.Run(cmd.Context(), p)
		if err != nil {
			return err
		}
		if err := printJSON(summary); err != nil {
			return err
		}
		if summary.Status == syncrunner.StatusConflict {
			return newExitCodeError(3, "sync completed with conflicts requiring attention")
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncTransportFlag, "transport", "memory", `transport to sync against (only "memory" is supported by this build)`)
	rootCmd.AddCommand(syncCmd)
}
