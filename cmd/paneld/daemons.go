package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quasar-panel/paneld/internal/config"
	"github.com/quasar-panel/paneld/internal/daemon"
	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/observability"
	"github.com/quasar-panel/paneld/internal/output"
	"github.com/quasar-panel/paneld/internal/paths"
	"github.com/quasar-panel/paneld/internal/shutdown"
)

const defaultStartWait = 10 * time.Second

// daemonDef describes one paneld daemon; newDaemonCmd turns it into the
// run/start/stop/status command group.
type daemonDef struct {
	name    string
	short   string
	long    string
	runLong string
	run     func(ctx context.Context, env *daemonEnv) error
}

// daemonEnv is what a daemon body gets once its pid file is held.
type daemonEnv struct {
	cfg    *config.Config
	flag   *shutdown.Flag
	logger *slog.Logger
}

// DaemonStatus is the JSON shape of `paneld <daemon> status`.
type DaemonStatus struct {
	Daemon  string `json:"daemon"`
	PID     int    `json:"pid,omitempty"`
	Running bool   `json:"running"`
	Stale   bool   `json:"stale,omitempty"`
	PIDFile string `json:"pid_file"`
	LogFile string `json:"log_file,omitempty"`
}

func newDaemonCmd(def daemonDef) *cobra.Command {
	cmd := &cobra.Command{
		Use:   def.name,
		Short: def.short,
		Long:  def.long,
		Args:  noArgs,
	}

	cmd.AddCommand(newDaemonRunCmd(def))
	cmd.AddCommand(newDaemonStartCmd(def))
	cmd.AddCommand(newDaemonStopCmd(def))
	cmd.AddCommand(newDaemonStatusCmd(def))

	return cmd
}

func newDaemonRunCmd(def daemonDef) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: fmt.Sprintf("Run the %s daemon in the foreground", def.name),
		Long:  def.runLong,
		Example: fmt.Sprintf(`  paneld %[1]s run
  paneld %[1]s run --log-level debug --log-format text`, def.name),
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), def)
		},
	}
}

// runDaemon holds the pid file for the lifetime of def.run and turns
// SIGTERM/SIGINT into the shared shutdown flag.
func runDaemon(ctx context.Context, def daemonDef) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	pidPath, err := paths.PIDFile(cfg.RunDir(), def.name)
	if err != nil {
		return clierrors.Wrap(clierrors.ExitDaemon, "Cannot resolve pid file", err)
	}

	pidFile, err := daemon.AcquirePIDFile(pidPath)
	if err != nil {
		return pidFileError(def.name, pidPath, err)
	}

	defer func() {
		_ = pidFile.Release()
	}()

	var flag shutdown.Flag

	stopSignals := shutdown.Notify(&flag)
	defer stopSignals()

	logger := observability.FromContext(ctx).With(slog.String("component", def.name))
	logger.Info("daemon starting",
		slog.String("event.type", "daemon.start"),
		slog.Int("pid", os.Getpid()),
		slog.String("pid_file", pidPath),
	)

	err = def.run(ctx, &daemonEnv{cfg: cfg, flag: &flag, logger: logger})

	logger.Info("daemon exiting",
		slog.String("event.type", "daemon.exit"),
		slog.Bool("shutdown_requested", flag.Requested()),
	)

	return err
}

func pidFileError(name, path string, err error) error {
	var locked *daemon.LockedError
	if errors.As(err, &locked) {
		return clierrors.DaemonAlreadyRunning(name, locked.PID)
	}

	if errors.Is(err, daemon.ErrUnsupported) {
		return &clierrors.CLIError{
			Message: "Daemon mode is not supported on this operating system",
			Hint:    "Run paneld on Linux",
			Cause:   err,
			Code:    clierrors.ExitUsage,
		}
	}

	return clierrors.Wrap(clierrors.ExitDaemon, "Cannot lock pid file "+path, err)
}

func newDaemonStartCmd(def daemonDef) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: fmt.Sprintf("Start the %s daemon in the background", def.name),
		Long: fmt.Sprintf(`Start the %s daemon detached from the terminal. The daemon logs to
<state>/logs/%s.log and holds <run>/%s.pid while it runs.`, def.name, def.name, def.name),
		Example: fmt.Sprintf(`  paneld %[1]s start
  paneld %[1]s start --config /etc/paneld/config.yaml`, def.name),
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			pidPath, logFile, err := daemonFiles(cfg, def.name)
			if err != nil {
				return err
			}

			if state, err := daemon.Check(pidPath); err == nil && state.Running {
				return clierrors.DaemonAlreadyRunning(def.name, state.PID)
			}

			spawnArgs := []string{def.name, "run", "--log-file", logFile, "--log-stderr", "off"}
			if file := configFileFrom(ctx); file != "" {
				spawnArgs = append(spawnArgs, "--config", file)
			}

			// Unset flags stay unset so the child still honors PANELD_LOG_*.
			for _, name := range []string{"log-level", "log-format"} {
				if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
					spawnArgs = append(spawnArgs, "--"+name, f.Value.String())
				}
			}

			spin := out.Spinner(fmt.Sprintf("Starting %s daemon", def.name))
			spin.Start()

			if _, err := daemon.Spawn(daemon.SpawnOptions{
				Args:    spawnArgs,
				LogFile: strings.TrimSuffix(logFile, ".log") + ".out",
			}); err != nil {
				spin.StopWithFailure("")
				return pidFileError(def.name, pidPath, err)
			}

			waitCtx, cancel := context.WithTimeout(ctx, wait)
			defer cancel()

			state, err := daemon.WaitRunning(waitCtx, pidPath)
			if err != nil {
				spin.StopWithFailure("")
				return clierrors.DaemonStartFailed(def.name, logFile, err)
			}

			spin.StopWithSuccess(fmt.Sprintf("%s daemon started (pid %d)", def.name, state.PID))

			if out.JSON {
				return out.PrintJSON(DaemonStatus{
					Daemon:  def.name,
					PID:     state.PID,
					Running: true,
					PIDFile: pidPath,
					LogFile: logFile,
				})
			}

			out.Muted("Log file: %s", logFile)

			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", defaultStartWait, "How long to wait for the daemon to come up")

	return cmd
}

func newDaemonStopCmd(def daemonDef) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: fmt.Sprintf("Stop the %s daemon", def.name),
		Long: fmt.Sprintf(`Send SIGTERM to the %s daemon and wait for it to exit. If it is still
running after the grace period it is killed.`, def.name),
		Example: fmt.Sprintf(`  paneld %[1]s stop
  paneld %[1]s stop --grace 30s`, def.name),
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			pidPath, _, err := daemonFiles(cfg, def.name)
			if err != nil {
				return err
			}

			spin := out.Spinner(fmt.Sprintf("Stopping %s daemon", def.name))
			spin.Start()

			pid, err := daemon.Stop(ctx, pidPath, grace)

			switch {
			case errors.Is(err, daemon.ErrNotRunning):
				spin.StopWithFailure("")
				return clierrors.DaemonNotRunning(def.name)
			case err != nil:
				spin.StopWithFailure("")
				return pidFileError(def.name, pidPath, err)
			}

			spin.StopWithSuccess(fmt.Sprintf("%s daemon stopped (pid %d)", def.name, pid))

			return nil
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", daemon.DefaultStopGrace, "Time to wait after SIGTERM before SIGKILL")

	return cmd
}

func newDaemonStatusCmd(def daemonDef) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   fmt.Sprintf("Show whether the %s daemon is running", def.name),
		Long:    fmt.Sprintf(`Report whether a process holds the %s daemon's pid file.`, def.name),
		Example: fmt.Sprintf("  paneld %[1]s status\n  paneld %[1]s status --json", def.name),
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			pidPath, logFile, err := daemonFiles(cfg, def.name)
			if err != nil {
				return err
			}

			state, err := daemon.Check(pidPath)
			if err != nil {
				return pidFileError(def.name, pidPath, err)
			}

			if out.JSON {
				return out.PrintJSON(DaemonStatus{
					Daemon:  def.name,
					PID:     state.PID,
					Running: state.Running,
					Stale:   state.Stale,
					PIDFile: pidPath,
					LogFile: logFile,
				})
			}

			switch {
			case state.Running:
				out.Success("%s daemon is running (pid %d)", def.name, state.PID)
			case state.Stale:
				out.Warning("%s daemon is not running (stale pid file for pid %d)", def.name, state.PID)
			default:
				out.Info("%s daemon is not running", def.name)
			}

			out.Details(
				output.Field{Label: "pid file", Value: pidPath},
				output.Field{Label: "log file", Value: logFile},
			)

			return nil
		},
	}
}

func daemonFiles(cfg *config.Config, name string) (pidFile, logFile string, err error) {
	pidFile, err = paths.PIDFile(cfg.RunDir(), name)
	if err != nil {
		return "", "", clierrors.Wrap(clierrors.ExitDaemon, "Cannot resolve pid file", err)
	}

	logFile, err = paths.DaemonLogFile(name)
	if err != nil {
		return "", "", clierrors.Wrap(clierrors.ExitDaemon, "Cannot resolve log file", err)
	}

	return pidFile, logFile, nil
}
