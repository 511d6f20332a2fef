// Lumen-fw is the firmware daemon for Lumen LED fixtures.
//
// It owns the fixture's wireless link, credential region, LED strip and
// reset button, and serves the HTTP control surface that the lumen-cfg
// tool and the mobile app talk to. Without stored credentials the
// fixture opens a provisioning access point; once attached it advertises
// itself over mDNS.
//
// Usage:
//
//	lumen-fw run [flags]
//
// See 'lumen-fw --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/lumen/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lumen-fw",
	Short: "Lumen fixture firmware daemon",
	Long: `The firmware daemon for Lumen network-attached LED fixtures.

The daemon drives the LED strip, watches the reset button, manages the
wireless link and serves the HTTP control surface. Settings come from a
YAML file; run 'lumen-fw config init' to write one with the defaults.

Note: For provisioning and controlling fixtures from a workstation, use
the separate 'lumen-cfg' utility.`,
	Version: version.Version,
}

var configPath string

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (default: $XDG_CONFIG_HOME/lumen/lumen-fw.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lumen-fw %s (commit: %s)\n", version.Version, version.Commit)
	},
}
