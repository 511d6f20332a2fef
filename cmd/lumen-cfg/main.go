// Lumen-cfg is the operator tool for Lumen LED fixtures.
//
// It finds fixtures on the local network, provisions wireless
// credentials, drives the LED, starts firmware updates and follows the
// fixture event stream. It talks to fixtures over their HTTP control
// surface only.
//
// Usage:
//
//	lumen-cfg [command] [flags]
//
// See 'lumen-cfg --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lumen-cfg",
	Short: "Lumen Fixture Configuration Utility",
	Long: `A standalone utility for provisioning and controlling Lumen fixtures.

Fixtures that are attached to a network are found over mDNS. A fixture
that is still provisioning is reached by joining its Lumen_XXXXXX access
point and passing its address with --device.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silent unless LUMEN_LOG_LEVEL is set.
		return logging.InitializeFromEnv()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lumen-cfg %s (commit: %s)\n", version.Version, version.Commit)
	},
}
