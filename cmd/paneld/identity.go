package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/identity"
	"github.com/quasar-panel/paneld/internal/observability"
	"github.com/quasar-panel/paneld/internal/output"
)

// IdentityInfo is the JSON shape of the identity commands.
type IdentityInfo struct {
	PanelID string `json:"panel_id"`
	File    string `json:"file"`
}

// waitIdentity blocks until the console daemon has stored the identity. It
// returns "" and no error when ctx ends because shutdown was requested.
func waitIdentity(ctx context.Context, env *daemonEnv) (string, error) {
	path := env.cfg.IdentityFile()

	env.logger.Info("waiting for panel identity", slog.String("path", path))

	id, err := identity.Wait(ctx, path, env.cfg.IdentityWaitAttempts(), env.cfg.IdentityWaitInterval())
	if err != nil {
		if errors.Is(err, context.Canceled) && env.flag.Requested() {
			env.logger.Info("shutdown requested while waiting for identity")
			return "", nil
		}

		return "", clierrors.IdentityUnavailable(path, err)
	}

	observability.SetPanelID(id)

	return id, nil
}

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect the stored panel identity",
		Long:  `Show or wait for the panel identity that the console daemon stores in identity.file.`,
		Args:  noArgs,
	}

	cmd.AddCommand(newIdentityShowCmd())
	cmd.AddCommand(newIdentityWaitCmd())

	return cmd
}

func newIdentityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored panel identity",
		Long:  `Print the panel identity read from identity.file. Fails if the console daemon has not stored one yet.`,
		Example: `  paneld identity show
  paneld identity show --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			path := cfg.IdentityFile()

			id, err := identity.Read(path)
			if err != nil {
				return clierrors.IdentityUnavailable(path, err)
			}

			return printIdentity(out, id, path)
		},
	}
}

func newIdentityWaitCmd() *cobra.Command {
	var attempts int

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until the panel identity is available",
		Long: `Poll identity.file until it holds a panel identity, then print it. Gives up
after identity.wait_attempts polls spaced identity.wait_interval apart.`,
		Example: `  paneld identity wait
  paneld identity wait --attempts 5`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.FromContext(ctx)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			if attempts <= 0 {
				attempts = cfg.IdentityWaitAttempts()
			}

			path := cfg.IdentityFile()

			id, err := identity.Wait(ctx, path, attempts, cfg.IdentityWaitInterval())
			if err != nil {
				return clierrors.IdentityUnavailable(path, err)
			}

			return printIdentity(out, id, path)
		},
	}

	cmd.Flags().IntVar(&attempts, "attempts", 0, "Number of polls (default: identity.wait_attempts)")

	return cmd
}

func printIdentity(out *output.Writer, id, path string) error {
	if out.JSON {
		return out.PrintJSON(IdentityInfo{PanelID: id, File: path})
	}

	// Plain stdout so scripts can capture it: id=$(paneld identity show)
	out.Println(id)

	return nil
}
