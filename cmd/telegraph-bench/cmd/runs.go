// =============================================================================
// RUNS COMMANDS - INSPECT STORED RESULTS
// =============================================================================
//
// COMMANDS:
//   telegraph-bench runs list [--limit N]     Stored runs, newest first
//   telegraph-bench runs show <run-id>        One run with its report
//   telegraph-bench runs batch <batch-id>     Comparison of one invocation
//   telegraph-bench runs delete <run-id>      Remove a run
//
// SOURCE:
//   With --server (or TELEGRAPH_SERVER) the commands go through the HTTP
//   API; otherwise they open the local store directly.
//
// =============================================================================

package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/bench"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/cli"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/report"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/store"
)

var (
	runsServer    string
	runsStorePath string
	runsTimeout   time.Duration
	runsLimit     int
)

// runSource is what the runs commands read from: the local store or a
// remote server.
type runSource interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (*cli.RunDetail, error)
	GetBatch(ctx context.Context, batchID string) ([]report.Comparison, error)
	DeleteRun(ctx context.Context, id string) error
}

// localSource serves runSource from a store opened in-process.
type localSource struct {
	st *store.Store
}

func (l localSource) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	return l.st.ListRuns(ctx, limit)
}

func (l localSource) GetRun(ctx context.Context, id string) (*cli.RunDetail, error) {
	run, err := l.st.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := l.st.Result(ctx, id)
	if err != nil {
		return nil, err
	}
	return &cli.RunDetail{Run: *run, Report: report.Compare([]*bench.Result{res})[0]}, nil
}

func (l localSource) GetBatch(ctx context.Context, batchID string) ([]report.Comparison, error) {
	runs, err := l.st.BatchRuns(ctx, batchID)
	if err != nil {
		return nil, err
	}
	results := make([]*bench.Result, 0, len(runs))
	for _, run := range runs {
		res, err := l.st.Result(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return report.Compare(results), nil
}

func (l localSource) DeleteRun(ctx context.Context, id string) error {
	return l.st.DeleteRun(ctx, id)
}

// openSource picks the remote server if one is configured, else the local
// store. The returned close func is never nil.
func openSource() (runSource, func(), error) {
	if server := cli.ResolveServer(runsServer); server != "" {
		clientConfig := cli.DefaultClientConfig()
		clientConfig.ServerURL = server
		clientConfig.Timeout = runsTimeout
		return cli.NewClient(clientConfig), func() {}, nil
	}

	if runsStorePath != "" {
		cfg.Store.Path = runsStorePath
	}
	if cfg.Store.Path == "" {
		return nil, nil, errNoStore
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return localSource{st: st}, func() { st.Close() }, nil
}

// getContext returns a context bounded by --timeout.
func getContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), runsTimeout)
}

// =============================================================================
// RUNS COMMAND (PARENT)
// =============================================================================

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored runs",
	Long: `List, show, compare and delete runs saved by "telegraph-bench run".

Examples:
  telegraph-bench runs list --store runs.db
  telegraph-bench runs show 4f1c... --server http://lab:8080
  telegraph-bench runs batch 9a2e... -o yaml`,
}

func init() {
	runsCmd.PersistentFlags().StringVarP(&runsServer, "server", "s", "",
		"Server URL (env: "+cli.EnvServer+")")
	runsCmd.PersistentFlags().StringVar(&runsStorePath, "store", "",
		"Local SQLite file, used when no server is set")
	runsCmd.PersistentFlags().DurationVar(&runsTimeout, "timeout", 30*time.Second,
		"Request timeout")

	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list (0 = all)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsBatchCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}

// =============================================================================
// SUBCOMMANDS
// =============================================================================

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, closeFn, err := openSource()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := getContext()
		defer cancel()
		runs, err := src.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		return formatter.FormatRuns(runs)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its lateness report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, closeFn, err := openSource()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := getContext()
		defer cancel()
		detail, err := src.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return formatter.FormatRunDetail(detail)
	},
}

var runsBatchCmd = &cobra.Command{
	Use:   "batch <batch-id>",
	Short: "Compare every engine of one run invocation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, closeFn, err := openSource()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := getContext()
		defer cancel()
		rows, err := src.GetBatch(ctx, args[0])
		if err != nil {
			return err
		}
		return formatter.FormatComparisons(rows)
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, closeFn, err := openSource()
		if err != nil {
			return err
		}
		defer closeFn()

		ctx, cancel := getContext()
		defer cancel()
		if err := src.DeleteRun(ctx, args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Run %s deleted", args[0])
		return nil
	},
}
