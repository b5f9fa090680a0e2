// Package cli implements band's command-line entrypoints: "band serve"
// builds an Engine from a RuntimeConfig (optionally loaded from a TOML
// file) and starts the HTTP server; "band model ..." gives manual
// smoke-testing access to a running engine (SPEC_FULL.md §4.10) — no
// timing/statistics aggregation lives here, that is the benchmark harness
// spec.md excludes.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "band",
	Short: "band is a multi-DNN inference engine core",
	Long: `band schedules and executes deep-learning inference requests across a
heterogeneous set of local workers, picking a unit-subgraph decomposition
and a worker per request according to the configured scheduler policy.`,
}

// Execute runs the root command, exiting the process with a non-zero
// status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
