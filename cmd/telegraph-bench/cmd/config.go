// =============================================================================
// CONFIG COMMANDS - PRINT AND VALIDATE CONFIGURATION
// =============================================================================
//
// COMMANDS:
//   telegraph-bench config print [--format yaml|toml]   Effective config
//   telegraph-bench config validate                     Check for mistakes
//
// "Effective" means after defaults and environment overrides, so
// `config print > bench.yaml` is a good starting point for a custom run.
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/cli"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print or validate configuration",
	Long: `Print or validate the bench configuration.

Examples:
  telegraph-bench config print > bench.yaml
  telegraph-bench config print --format toml
  telegraph-bench config validate -c bench.yaml`,
}

func init() {
	configPrintCmd.Flags().StringVar(&configFormat, "format", "yaml", "Encoding: yaml, toml")

	configCmd.AddCommand(configPrintCmd)
	configCmd.AddCommand(configValidateCmd)
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.Marshal(configFormat)
		if err != nil {
			return err
		}
		_, err = formatter.Writer().Write(data)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		source := configFlag
		if source == "" {
			source = "built-in defaults"
		}
		cli.PrintSuccess("Configuration is valid (%s)", source)
		fmt.Fprintf(formatter.Writer(), "Engines:       %v\n", cfg.Engines)
		fmt.Fprintf(formatter.Writer(), "Subscriptions: %d\n", len(cfg.Subscriptions))
		return nil
	},
}
