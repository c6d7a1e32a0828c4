package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/config"
)

var (
	flagConfigGlobal bool
)

func init() {
	configCmd.PersistentFlags().BoolVar(&flagConfigGlobal, "global", false, "operate on user config (~/.cmdgate/config.toml)")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configEditCmd)

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or modify cmdgate configuration",
	Long: `Show the effective configuration.

Values are layered: built-in defaults, ~/.cmdgate/config.toml, the project
.cmdgate/config.toml (or --config), then CMDGATE_* environment variables
such as CMDGATE_GENERAL_DEFAULT_CREDITS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return newWriter(cmd).Render(cfg, func(w io.Writer) error {
			return toml.NewEncoder(w).Encode(cfg)
		})
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		val, ok := config.GetValue(cfg, args[0])
		if !ok {
			return fmt.Errorf("unknown key %q", args[0])
		}
		return newWriter(cmd).Render(map[string]any{
			"key":   args[0],
			"value": val,
		}, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "%v\n", val)
			return err
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the project (or --global) config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := configTarget()
		if err != nil {
			return err
		}

		value, err := config.ParseValue(args[0], args[1])
		if err != nil {
			return err
		}
		project, err := projectPath()
		if err != nil {
			return err
		}
		// Reject values the merged configuration would fail to validate.
		if _, err := config.Load(config.LoadOptions{
			ProjectDir:    project,
			ConfigPath:    flagConfig,
			FlagOverrides: map[string]any{args[0]: value},
		}); err != nil {
			return err
		}
		if err := config.WriteValue(target, args[0], value); err != nil {
			return err
		}

		out := newWriter(cmd)
		if out.IsStructured() {
			return out.Write(map[string]any{
				"path":  target,
				"key":   args[0],
				"value": value,
			})
		}
		out.Success(fmt.Sprintf("%s = %v (%s)", args[0], value, target))
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable configuration keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := config.Keys()
		return newWriter(cmd).Render(keys, func(w io.Writer) error {
			for _, k := range keys {
				if _, err := fmt.Fprintln(w, k); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR (default: vi)",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := configTarget()
		if err != nil {
			return err
		}

		// Seed a missing file so the editor opens something useful.
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			if err := config.WriteValue(target, "general.default_credits", config.DefaultConfig().General.DefaultCredits); err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", target, err)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		editCmd := exec.Command(editor, target)
		editCmd.Stdin = os.Stdin
		editCmd.Stdout = os.Stdout
		editCmd.Stderr = os.Stderr
		return editCmd.Run()
	},
}

func configTarget() (string, error) {
	project, err := projectPath()
	if err != nil {
		return "", err
	}
	userPath, projectPath := config.ConfigPaths(project, flagConfig)
	if flagConfigGlobal {
		if userPath == "" {
			return "", fmt.Errorf("cannot resolve home directory for --global")
		}
		return userPath, nil
	}
	return projectPath, nil
}
