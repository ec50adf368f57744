// =============================================================================
// TELEGRAPH-BENCH - MAIN ENTRY POINT
// =============================================================================
//
// Compares two delayed message dispatch engines over the same workload:
//
//   eventqueue  one global queue keyed by due time
//   mailbox     per-tag mailboxes with delay buckets and dispatch records
//
// USAGE:
//   telegraph-bench [command] [flags]
//
// EXAMPLES:
//   telegraph-bench run                          # Reference experiment
//   telegraph-bench run --simulate --seed 42     # Deterministic replay
//   telegraph-bench run -c bench.yaml -o json    # Custom workload, JSON out
//   telegraph-bench serve --addr :8080           # HTTP API over stored runs
//   telegraph-bench runs list                    # Stored runs
//
// CONFIGURATION:
//   Config file: --config (yaml or toml)
//   Env vars: TELEGRAPH_STORE_PATH, TELEGRAPH_METRICS_ADDR, TELEGRAPH_SERVER
//
// =============================================================================

package main

import (
	"os"

	"github.com/AliceSzzze/libgdx-ai-msg/cmd/telegraph-bench/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
