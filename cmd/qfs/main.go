// Command qfs mounts a QuantumFS revision over FUSE and, eventually,
// drives the publishing workflow (transaction/commit/push) that writes
// a new revision back to the object network and trust-anchor contract.
// Grounded on the cobra root-command shape the example pack's
// cuemby-warren uses (persistent flags bound once in init, subcommands
// registered via AddCommand), adapted to spf13/viper for QuantumFS's
// file/env/flag configuration precedence (spec.md §6).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set via -ldflags at build time; "dev" otherwise.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qfs: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "qfs",
	Short:   "QuantumFS: a read-mostly, content-addressed filesystem over FUSE",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a QuantumFS settings file (default ~/.qfs/settings)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(transactionCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(pushCmd)

	viper.SetEnvPrefix("QFS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
