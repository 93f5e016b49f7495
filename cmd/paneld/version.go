package main

import (
	"fmt"

	"github.com/spf13/cobra"

	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/output"
)

// VersionInfo is the JSON shape of `paneld version --json`.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}

	return &clierrors.CLIError{
		Message: fmt.Sprintf("'%s' takes no arguments, got %q", cmd.CommandPath(), args[0]),
		Hint:    fmt.Sprintf("Run '%s --help' for usage", cmd.CommandPath()),
		Code:    clierrors.ExitUsage,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show the paneld build",
		Long:    `Print the version, commit, and build date baked into this paneld binary.`,
		Example: `  paneld version --json`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.FromContext(cmd.Context())
			info := VersionInfo{Version: version, Commit: commit, Date: date}

			if out.JSON {
				return out.PrintJSON(info)
			}

			out.Print("paneld %s\n", info.Version)
			out.Details(
				output.Field{Label: "commit", Value: info.Commit},
				output.Field{Label: "built", Value: info.Date},
			)

			return nil
		},
	}
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish]",
		Short: "Generate a shell completion script",
		Long: `Write a completion script for the given shell to stdout. Panel images
ship busybox ash, which reads bash completions.`,
		Example:               `  paneld completion bash > /etc/bash_completion.d/paneld`,
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:             []string{"bash", "zsh", "fish"},
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			w := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			default:
				return root.GenFishCompletion(w, true)
			}
		},
	}
}
