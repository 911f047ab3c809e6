// Command tpcb is a thin driver that hammers the storage engine with a
// TPC-B-shaped workload (branch/teller/account transactions) and reports
// throughput. It exists to exercise the lock manager, WAL and checkpoint
// code paths under real concurrency, not to be a spec-compliant benchmark.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tpcb",
	Short: "tpcb - concurrent branch/teller/account load generator",
	Long: `tpcb drives a configurable number of concurrent workers against the
storage engine, each executing TPC-B-style debit/credit transactions
(update account, update teller, update branch, append history row), and
prints the resulting throughput once the run completes.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}
