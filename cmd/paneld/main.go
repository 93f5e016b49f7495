// Package main is the entry point for paneld, the panel console daemon.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/quasar-panel/paneld/internal/buildinfo"
	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/output"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	buildinfo.Version = version
	buildinfo.Commit = commit
	buildinfo.Date = date

	a := newApp()
	err := a.rootCmd().Execute()

	// Log file and trace exporter are released even when the command failed,
	// so a daemon that exits non-zero still flushes its last records.
	if closeErr := a.close(); closeErr != nil {
		a.out.Warning("%s", closeErr)
	}

	if err != nil {
		return reportError(a.out, err)
	}

	return clierrors.ExitSuccess
}

// Cobra reports these before any command runs, as plain errors.
var usageErrorPrefixes = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"required flag",
	"invalid argument",
}

// reportError prints err for the operator, logs it for the daemon log, and
// returns the exit code.
func reportError(out *output.Writer, err error) int {
	var cliErr *clierrors.CLIError
	if !clierrors.As(err, &cliErr) {
		cliErr = classifyError(err)
	}

	out.Failure("%s", cliErr.Message)

	if cliErr.Hint != "" {
		out.Info("%s", cliErr.Hint)
	}

	attrs := []any{
		slog.String("event.type", "paneld.error"),
		slog.Int("exit_code", cliErr.Code),
	}
	if cliErr.Cause != nil {
		attrs = append(attrs, slog.String("error", cliErr.Cause.Error()))
	}

	slog.Error(cliErr.Message, attrs...)

	return cliErr.Code
}

func classifyError(err error) *clierrors.CLIError {
	msg := err.Error()

	for _, prefix := range usageErrorPrefixes {
		if !strings.HasPrefix(msg, prefix) {
			continue
		}

		usage := &clierrors.CLIError{Message: msg, Code: clierrors.ExitUsage}
		if !strings.Contains(msg, "--help") {
			usage.Hint = "Run 'paneld --help' for usage"
		}

		return usage
	}

	return &clierrors.CLIError{Message: msg, Code: clierrors.ExitGeneral}
}
