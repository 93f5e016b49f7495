package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/observability"
	"github.com/quasar-panel/paneld/internal/output"
)

const traceFlushTimeout = 5 * time.Second

// app carries what the root command sets up for every invocation and
// must release when the process ends.
type app struct {
	out *output.Writer
	// flags resolves the persistent flags, falling back to PANELD_<FLAG>
	// (dashes as underscores) when a flag is not given.
	flags    *viper.Viper
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

func newApp() *app {
	flags := viper.New()
	flags.SetEnvPrefix("PANELD")
	flags.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	flags.AutomaticEnv()

	return &app{out: output.Default(), flags: flags}
}

// newRootCmd builds a root command whose resources are never closed; for
// tests that only inspect the command tree.
func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "paneld",
		Short: "Panel console, MQTT, and log upload daemons",
		Long: `paneld runs on an alarm panel next to its serial debug console.

The console daemon reads the panel identity from the console, stores it, and
relays every console line into the structured log. The mqtt daemon announces
the panel to the remote broker and executes its commands. The upload daemon
ships log files to an FTP server when asked to.

Get started:
  paneld doctor           Check device, identity, and endpoints
  paneld console start    Start the console daemon
  paneld mqtt start       Start the MQTT bridge
  paneld upload start     Start the log uploader`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	fs := root.PersistentFlags()
	fs.String("config", "", "Config file (default: /etc/paneld/config.yaml or user config)")
	fs.Bool("json", false, "Output in JSON format")
	fs.Bool("quiet", false, "Minimal output (for init scripts)")
	fs.Bool("no-color", false, "Disable colored output")
	fs.String("log-level", "info", "Log level: error, warn, info, debug")
	fs.String("log-format", "json", "Log format: json, text")
	fs.String("log-file", "", "Structured log file path")
	fs.String("log-stderr", "auto", "Structured logging to stderr: auto, on, off")

	// Only fails for a nil flag set.
	_ = a.flags.BindPFlags(fs)

	root.SuggestionsMinimumDistance = 2

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &clierrors.CLIError{
			Message: err.Error(),
			Hint:    fmt.Sprintf("Run '%s --help' for available flags", cmd.CommandPath()),
			Code:    clierrors.ExitUsage,
		}
	})

	// Daemons
	root.AddCommand(newConsoleCmd())
	root.AddCommand(newMQTTCmd())
	root.AddCommand(newUploadCmd())

	// Resource commands
	root.AddCommand(newIdentityCmd())
	root.AddCommand(newConfigCmd())

	// Utility commands
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newCompletionCmd())

	return root
}

// setup runs before every command: output mode, the structured logger
// (tagged with the daemon for `<daemon> run`), and opt-in tracing.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.out.JSON = a.flags.GetBool("json")
	a.out.Quiet = a.flags.GetBool("quiet")

	if a.flags.GetBool("no-color") {
		a.out.SetNoColor(true)
	}

	daemon := daemonName(cmd)

	logger, closeLog, err := observability.NewLogger(&observability.Config{
		Level:      a.flags.GetString("log-level"),
		Format:     a.flags.GetString("log-format"),
		LogFile:    a.flags.GetString("log-file"),
		StderrMode: a.flags.GetString("log-stderr"),
		SessionID:  uuid.NewString(),
		Daemon:     daemon,
		Version:    version,
		Commit:     commit,
	})
	if err != nil {
		return &clierrors.CLIError{
			Message: fmt.Sprintf("Invalid logging configuration: %v", err),
			Hint:    "Use --log-level (error|warn|info|debug), --log-format (json|text), --log-stderr (auto|on|off), and/or --log-file",
			Cause:   err,
			Code:    clierrors.ExitUsage,
		}
	}

	if closeLog != nil {
		a.onClose("log file", closeLog)
	}

	slog.SetDefault(logger)

	ctx := a.out.WithContext(cmd.Context())
	ctx = observability.WithLogger(ctx, logger)
	ctx = withConfigFile(ctx, a.flags.GetString("config"))
	cmd.SetContext(ctx)

	a.startTracing(ctx, logger, daemon)

	return nil
}

func (a *app) startTracing(ctx context.Context, logger *slog.Logger, daemon string) {
	cfg, err := observability.TelemetryConfigFromEnv(daemon, version, commit)
	if err != nil {
		logger.Warn("tracing sample ratio ignored, keeping every trace", slog.String("error", err.Error()))
	}

	flush, err := observability.SetupTelemetry(ctx, cfg)
	if err != nil {
		logger.Warn("tracing disabled", slog.String("error", err.Error()))
		return
	}

	a.onClose("traces", func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), traceFlushTimeout)
		defer cancel()

		return flush(flushCtx)
	})
}

func (a *app) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// close releases resources in reverse order of acquisition. Every closer
// runs even if an earlier one fails.
func (a *app) close() error {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}

	a.closers = nil

	return errors.Join(errs...)
}
