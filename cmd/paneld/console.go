package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quasar-panel/paneld/internal/console"
	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/identity"
	"github.com/quasar-panel/paneld/internal/observability"
	"github.com/quasar-panel/paneld/internal/paths"
	"github.com/quasar-panel/paneld/internal/serialport"
)

func newConsoleCmd() *cobra.Command {
	return newDaemonCmd(daemonDef{
		name:  paths.DaemonConsole,
		short: "Manage the serial console daemon",
		long: `The console daemon owns the panel's serial debug console. It reads the
panel identity once at startup, stores it for the other daemons, and then
relays every console line into the structured log until it is stopped.`,
		runLong: `Run the console daemon in the foreground.

Startup wakes the console, enters the debug shell if needed, asks for the
panel identity, and writes it to identity.file. The daemon then streams
console output into the log. SIGTERM or SIGINT stop it within one read
timeout (console.timeout).`,
		run: runConsole,
	})
}

// consoleTransport is the serial handle owned by the console daemon.
type consoleTransport interface {
	console.Transport
	Close() error
}

var consoleTransportFactory = func(cfg serialport.Config) (consoleTransport, error) {
	return serialport.Open(cfg)
}

func runConsole(ctx context.Context, env *daemonEnv) error {
	cfg := env.cfg
	device := cfg.ConsoleDevice()

	t, err := consoleTransportFactory(serialport.Config{
		Device:      device,
		Baud:        cfg.ConsoleBaud(),
		ReadTimeout: cfg.ConsoleTimeout(),
	})
	if err != nil {
		return clierrors.TransportOpenFailed(device, err)
	}

	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			env.logger.Warn("close console device", slog.String("error", closeErr.Error()))
		}
	}()

	env.logger.Info("console opened",
		slog.String("device", device),
		slog.Int("baud", cfg.ConsoleBaud()),
		slog.Duration("timeout", cfg.ConsoleTimeout()),
	)

	ctrl := console.NewController(t, env.logger)

	id, err := console.Acquire(ctx, t, ctrl, env.flag, console.AcquireOptions{
		MaxResponseLines: cfg.IdentityLines(),
		Logger:           env.logger,
	})

	switch {
	case errors.Is(err, console.ErrInterrupted):
		env.logger.Info("shutdown requested during identity acquisition")
		return nil
	case console.IsProtocolError(err):
		return clierrors.IdentityAcquireFailed(err)
	case err != nil:
		return clierrors.TransportIOFailed(err)
	}

	idPath := cfg.IdentityFile()
	if err := identity.Write(idPath, id); err != nil {
		return clierrors.IdentityPersistFailed(idPath, err)
	}

	observability.SetPanelID(id)

	env.logger.Info("panel identity stored",
		slog.String("event.type", "console.identity"),
		slog.String("panel.id", id),
		slog.String("path", idPath),
	)

	sink := env.logger.With(slog.String("source", "console"), slog.String("panel.id", id))

	if err := console.Relay(t, ctrl, env.flag, sink); err != nil {
		return clierrors.TransportIOFailed(err)
	}

	return nil
}
