package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quasar-panel/paneld/internal/config"
	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/paths"
)

type configFileKey struct{}

func withConfigFile(ctx context.Context, file string) context.Context {
	return context.WithValue(ctx, configFileKey{}, file)
}

// loadConfig loads configuration honoring the root --config flag.
func loadConfig(ctx context.Context) (*config.Config, error) {
	file, _ := ctx.Value(configFileKey{}).(string)

	cfg, err := config.Load(file)
	if err != nil {
		return nil, clierrors.ConfigFailed("load configuration", err)
	}

	return cfg, nil
}

func configFileFrom(ctx context.Context) string {
	file, _ := ctx.Value(configFileKey{}).(string)
	return file
}

// daemonName returns the daemon a `<daemon> run` command executes, or "".
func daemonName(cmd *cobra.Command) string {
	parent := cmd.Parent()
	if cmd.Name() != "run" || parent == nil {
		return ""
	}

	switch parent.Name() {
	case paths.DaemonConsole, paths.DaemonMQTT, paths.DaemonUpload:
		return parent.Name()
	default:
		return ""
	}
}
