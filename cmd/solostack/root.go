// Package main implements the solostack CLI: a debugging/scripting front
// door over the kernel, one verb per file, in the teacher's cobra idiom
// (cmd/*.go, one cobra.Command per concern).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/solostack/kernel/internal/cliconfig"
	"github.com/solostack/kernel/internal/kernelerr"
	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/store"
	"github.com/spf13/cobra"
)

var baseDirFlag string

var rootCmd = &cobra.Command{
	Use:           "solostack",
	Short:         "Local-first task sync kernel — debugging and scripting front door",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDirFlag, "base-dir", "", "store directory (default: $SOLOSTACK_BASE_DIR or config.json base_dir or cwd)")
}

// Execute runs the root command and exits with the §6 exit code derived
// from whatever error (if any) the command returned.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func effectiveBaseDir() string {
	if baseDirFlag != "" {
		return baseDirFlag
	}
	return cliconfig.GetBaseDir()
}

// openStore opens the store at the effective base dir, initializing it on
// first use.
func openStore() (*store.DB, error) {
	dir := effectiveBaseDir()
	db, err := store.Open(dir)
	if err == nil {
		return db, nil
	}
	return store.Initialize(dir)
}

// exitCode maps a command error to the §6 exit codes: 0 success,
// 2 validation, 3 conflict requires attention, 4 transport,
// 5 storage corruption.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return 2
	case errors.Is(err, kernelerr.ErrNotFound):
		return 2
	case errors.Is(err, kernelerr.ErrTransport):
		return 4
	case errors.Is(err, kernelerr.ErrStorage):
		return 5
	case errors.Is(err, kernelerr.ErrCancelled):
		return 4
	default:
		return 1
	}
}

// exitCodeError lets a command force a specific exit code (e.g. `sync`
// reporting CONFLICT status as exit 3 even though no Go error occurred).
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

func newExitCodeError(code int, msg string) error {
	return &exitCodeError{code: code, msg: msg}
}
