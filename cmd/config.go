package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/gstdots/internal/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved configuration",
	Long: `Inspect the configuration gstdots would run with, after merging the
config file, GSTDOTS_* environment variables and defaults.

Examples:
  gstdots config show
  gstdots config show --format json
  gstdots config validate`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for problems",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	enumFlag(configShowCmd.Flags(), &configFormat, "format", "f", "yaml", "Output format", "yaml", "json")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", configFormat)
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	result := cfg.ValidateWithDetails()
	out := cmd.OutOrStdout()
	if !result.HasErrors() {
		fmt.Fprintln(out, "✓ Configuration is valid")
		return nil
	}
	fmt.Fprintln(out, result.String())
	return fmt.Errorf("configuration has %d problem(s)", len(result.Errors))
}
