// =============================================================================
// SERVE COMMAND - HTTP API OVER THE RUN STORE
// =============================================================================
//
// USAGE:
//   telegraph-bench serve --store runs.db --addr :8080
//
// Metrics are always served on /metrics of the same listener; a separate
// metrics address only matters for `run`, which has no API server.
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/api"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/config"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/metrics"
)

// errNoStore is returned by commands that need a store path but got none.
var errNoStore = errors.New("no store configured: use --store or " + config.EnvStorePath)

var (
	serveAddr      string
	serveStorePath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored runs over HTTP",
	Long: `Start an HTTP API over the run store.

Endpoints:
  GET    /runs, /runs/{id}, /batches/{id}
  DELETE /runs/{id}
  GET    /healthz, /readyz, /version, /metrics

Examples:
  telegraph-bench serve --store runs.db
  telegraph-bench serve --store runs.db --addr 127.0.0.1:9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveStorePath, "store", "",
		"SQLite file to serve (env: "+config.EnvStorePath+")")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("store") {
		cfg.Store.Path = serveStorePath
	}
	if cfg.Store.Path == "" {
		return errNoStore
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := metrics.Init(metrics.DefaultConfig())
	st.SetMetrics(reg.Store)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Addr = serveAddr
	serverConfig.Logger = logger
	serverConfig.Metrics = reg
	server := api.NewServer(st, serverConfig)

	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
