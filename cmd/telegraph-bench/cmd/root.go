// =============================================================================
// ROOT COMMAND - CLI ENTRY POINT AND GLOBAL FLAGS
// =============================================================================
//
// GLOBAL FLAGS:
//   --config, -c    Config file (yaml or toml; default: built-in experiment)
//   --log-level     debug, info, warn, error (overrides config)
//   --log-format    text, json (overrides config)
//   --output, -o    Output format: table, json, yaml (default: table)
//
// SUBCOMMANDS:
//   run         Run the engines over one shared workload
//   serve       Serve stored runs over HTTP
//   runs        Inspect stored runs
//   config      Print or validate configuration
//   version     Show version information
//
// Logs go to stderr so that `-o json` output on stdout stays parseable.
//
// =============================================================================

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/cli"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/config"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/store"
)

// =============================================================================
// GLOBAL STATE
// =============================================================================

var (
	// Global flags
	configFlag    string
	logLevelFlag  string
	logFormatFlag string
	outputFlag    string

	// Shared instances
	cfg       *config.Config
	logger    *slog.Logger
	formatter *cli.Formatter
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "telegraph-bench",
	Short: "Compare delayed message dispatch engines",
	Long: `telegraph-bench replays one dispatch schedule against several message
dispatch engines and reports how late each one delivers.

Engines:
  • eventqueue: a single queue of deliveries keyed by due time
  • mailbox:    per-tag mailboxes that range-scan delay buckets

Use "telegraph-bench [command] --help" for more information about a command.`,
	PersistentPreRunE: initialize,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		cli.PrintError("%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"Config file (yaml or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "",
		"Log format: text, json")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table",
		"Output format: table, json, yaml")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// =============================================================================
// INITIALIZATION
// =============================================================================

// initialize loads the config, applies flag overrides and builds the logger
// and formatter shared by every subcommand.
func initialize(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if logFormatFlag != "" {
		cfg.Log.Format = logFormatFlag
	}
	logger = cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	format, err := cli.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	formatter = cli.NewFormatter(format)

	return nil
}

// openStore opens the configured database with the configured retry policy.
func openStore(c *config.Config) (*store.Store, error) {
	st, err := store.Open(c.Store.Path)
	if err != nil {
		return nil, err
	}
	st.SetRetryPolicy(store.RetryPolicy{
		MaxRetries: max(c.Store.MaxRetries, 0),
		BaseDelay:  c.Store.RetryBaseDelay,
		MaxDelay:   c.Store.RetryMaxDelay,
	})
	return st, nil
}
