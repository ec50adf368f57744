// =============================================================================
// RUN COMMAND - REPLAY ONE WORKLOAD AGAINST EVERY ENGINE
// =============================================================================
//
//   config ──► schedule + subscriptions (one seeded source)
//                │
//                ├──► eventqueue ──► Result ┐
//                └──► mailbox    ──► Result ┴──► report.Compare ──► stdout
//                                              └──► store (one batch)
//
// Engines run one after another, never concurrently, so they do not compete
// for the CPU and their real-clock lateness stays comparable.
//
// EXAMPLES:
//   telegraph-bench run
//   telegraph-bench run --simulate --seed 7
//   telegraph-bench run --engine mailbox --min-scan-interval 250us
//   telegraph-bench run --store runs.db --metrics-addr :9090
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/bench"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/config"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/report"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/workload"
)

var (
	runEngines         []string
	runSimulate        bool
	runSeed            int64
	runPollInterval    time.Duration
	runMinScanInterval time.Duration
	runStorePath       string
	runMetricsAddr     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engines over one shared workload",
	Long: `Generate a dispatch schedule from the configuration, replay it against
every configured engine and print a lateness comparison.

With a store path the runs are saved as one batch and can be inspected
later with "telegraph-bench runs".

Examples:
  telegraph-bench run
  telegraph-bench run --simulate --seed 7 -o json
  telegraph-bench run --engine mailbox --min-scan-interval 250us`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runEngines, "engine", "e", nil,
		"Engines to run (default from config)")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false,
		"Drive a manual clock instead of the wall clock")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0,
		"Workload seed (0 = derive from time)")
	runCmd.Flags().DurationVar(&runPollInterval, "poll-interval", 0,
		"Gap between Update() calls (default from config)")
	runCmd.Flags().DurationVar(&runMinScanInterval, "min-scan-interval", 0,
		"Skip mailbox records scanned more recently than this")
	runCmd.Flags().StringVar(&runStorePath, "store", "",
		"SQLite file to save results to (env: "+config.EnvStorePath+")")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while running")
}

// applyRunFlags copies explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.Engines = runEngines
	}
	if flags.Changed("simulate") {
		cfg.Simulate = runSimulate
	}
	if flags.Changed("seed") {
		cfg.Workload.Seed = runSeed
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval = runPollInterval
	}
	if flags.Changed("min-scan-interval") {
		cfg.MinScanInterval = runMinScanInterval
	}
	if flags.Changed("store") {
		cfg.Store.Path = runStorePath
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = runMetricsAddr
		cfg.Metrics.Enabled = true
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// Metrics
	// -------------------------------------------------------------------------
	var engineMetrics *metrics.EngineMetrics
	var storeMetrics *metrics.StoreMetrics
	if cfg.Metrics.Enabled {
		mcfg := metrics.DefaultConfig()
		reg := metrics.Init(mcfg)
		engineMetrics = reg.Engine
		storeMetrics = reg.Store

		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: reg.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	// -------------------------------------------------------------------------
	// Workload
	// -------------------------------------------------------------------------
	seed := workload.ResolveSeed(cfg.Workload.Seed)
	rng := workload.NewRand(seed)
	schedule := workload.Generate(cfg.Workload, rng)
	subs := workload.Subscriptions(cfg, rng)
	logger.Info("workload generated",
		"messages", len(schedule),
		"subscriptions", len(subs),
		"seed", seed)

	runner := &bench.Runner{
		PollInterval:    cfg.PollInterval,
		Grace:           cfg.Workload.Grace,
		Simulate:        cfg.Simulate,
		MinScanInterval: cfg.MinScanInterval,
		Logger:          logger,
		Metrics:         engineMetrics,
	}

	results := make([]*bench.Result, 0, len(cfg.Engines))
	for _, name := range cfg.Engines {
		res, err := runner.Run(ctx, name, schedule, subs)
		if err != nil {
			return err
		}
		res.Seed = seed
		results = append(results, res)
	}

	if err := formatter.FormatComparisons(report.Compare(results)); err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// Persistence
	// -------------------------------------------------------------------------
	if cfg.Store.Path == "" {
		return nil
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	st.SetMetrics(storeMetrics)

	batchID := uuid.NewString()
	for _, res := range results {
		if err := st.SaveRun(ctx, batchID, res); err != nil {
			return err
		}
	}
	logger.Info("results saved", "batch", batchID, "path", cfg.Store.Path, "runs", len(results))
	return nil
}
