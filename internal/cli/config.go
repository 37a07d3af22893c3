package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thoscut/pdfocr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage pdfocr configuration",
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)
}

// shownKeys are printed by config show, in this order.
var shownKeys = []string{
	"defaults.engine",
	"defaults.language",
	"defaults.check_language",
	"defaults.dpi",
	"defaults.preprocess",
	"defaults.jobs",
	"defaults.working_dir",
	"defaults.profile",
	"defaults.tool_timeout",
	"logging.level",
	"logging.format",
	"remote.url",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, key := range shownKeys {
			value, err := cfg.Get(key)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s = %s\n", key, value)
		}
		fmt.Fprintf(out, "remote.api_key = %s\n", maskKey(cfg.Remote.APIKey))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		// Edit the file as written, so environment overrides and secrets
		// read from files are not persisted.
		path := configPath()
		fileCfg, err := config.ReadFile(path)
		if err != nil {
			return err
		}
		if err := fileCfg.Set(key, value); err != nil {
			return err
		}

		if err := fileCfg.Save(path); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), configPath())
	},
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
