package main

import (
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/output"
	"github.com/quasar-panel/paneld/internal/paths"
)

// ConfigPathInfo is the JSON shape of `paneld config path`.
type ConfigPathInfo struct {
	File       string   `json:"file,omitempty"`
	SearchDirs []string `json:"search_dirs"`
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View and modify paneld configuration settings.`,
		Args:  noArgs,
	}

	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		Long: `Display every configuration setting with its effective value, merged from
defaults, the config file, and PANELD_* environment variables. Passwords are
masked.`,
		Example: `  paneld config list
  paneld config list --format toml
  paneld config list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			settings := maskSecrets(cfg.All())

			if out.JSON {
				return out.PrintJSON(settings)
			}

			data, err := renderSettings(format, settings)
			if err != nil {
				return err
			}

			out.Print("%s", data)

			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml, toml")

	return cmd
}

func renderSettings(format string, settings map[string]any) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case "yaml":
		data, err = yaml.Marshal(settings)
	case "toml":
		data, err = toml.Marshal(settings)
	default:
		return nil, &clierrors.CLIError{
			Message: fmt.Sprintf("Unknown format %q", format),
			Hint:    "Use --format yaml or --format toml",
			Code:    clierrors.ExitUsage,
		}
	}

	if err != nil {
		return nil, clierrors.ConfigFailed("render configuration", err)
	}

	return data, nil
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Get a configuration value",
		Long:    `Retrieve and display the current value of a single configuration key.`,
		Example: `  paneld config get console.device`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key := args[0]

			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			if !cfg.IsKnown(key) {
				out.Muted("%s is not set", key)
				return nil
			}

			out.Print("%s = %v\n", key, cfg.Get(key))

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  `Set a configuration key to the given value. The value is persisted to the config file in use, or to config.yaml in the user config directory.`,
		Example: `  paneld config set console.device /dev/ttyS1
  paneld config set mqtt_broker.host broker.example.com`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key, value := args[0], args[1]

			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			if err := cfg.Set(key, value); err != nil {
				return clierrors.ConfigFailed("set config", err)
			}

			out.Success("Set %s = %s", key, value)

			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show which config file is in use",
		Long:  `Print the config file paneld loaded and the directories it searches for config.yaml or config.json.`,
		Example: `  paneld config path
  paneld config path --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			info := ConfigPathInfo{
				File:       cfg.File(),
				SearchDirs: []string{paths.SystemConfigDir},
			}

			if root, err := paths.ConfigRoot(); err == nil {
				info.SearchDirs = append(info.SearchDirs, root)
			}

			if out.JSON {
				return out.PrintJSON(info)
			}

			if info.File == "" {
				out.Muted("No config file found, using defaults")
			} else {
				out.Println(info.File)
			}

			for _, dir := range info.SearchDirs {
				out.Muted("  searched: %s", filepath.Join(dir, "config.{yaml,json}"))
			}

			return nil
		},
	}
}

// maskSecrets replaces password values in a nested settings map.
func maskSecrets(settings map[string]any) map[string]any {
	masked := make(map[string]any, len(settings))

	for key, value := range settings {
		switch v := value.(type) {
		case map[string]any:
			masked[key] = maskSecrets(v)
		default:
			if (key == "passwd" || key == "password") && fmt.Sprint(v) != "" {
				masked[key] = "********"
				continue
			}

			masked[key] = v
		}
	}

	return masked
}
