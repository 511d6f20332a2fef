package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/lumen/internal/config"
	"github.com/muurk/lumen/internal/credstore"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/ui"
)

// Erase and config command flags
var (
	assumeYes   bool
	forceConfig bool
)

func init() {
	eraseCmd.Flags().BoolVar(&assumeYes, "yes", false, "Skip the confirmation prompt")
	configInitCmd.Flags().BoolVar(&forceConfig, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

// eraseCmd wipes the credential region, the same as a long button press
var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase stored wireless credentials",
	Long: `Zero-fill the credential region so the fixture boots into provisioning.

This has the same effect as holding the reset button. Stop the daemon
first; it reads the region only at boot.`,
	Example: `  # Erase with confirmation prompt
  lumen-fw erase

  # Erase without prompting (for scripts)
  lumen-fw erase --yes`,
	RunE: runErase,
}

// restartNotice tells the operator to restart the daemon instead of
// rebooting the host.
type restartNotice struct {
	p *ui.Printer
}

func (r restartNotice) Restart(reason string) {
	r.p.Success("Credentials erased",
		ui.Detail{Key: "Reason", Value: reason},
		ui.Detail{Key: "Next", Value: "Start lumen-fw to open the provisioning access point"},
	)
}

func runErase(cmd *cobra.Command, args []string) error {
	if err := logging.InitializeFromEnv(); err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	if !assumeYes {
		ok := ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Erase wireless credentials", []string{
			"The fixture forgets its network: " + cfg.Storage.Path,
			"It will need to be provisioned again with lumen-cfg provision",
		}, "ERASE")
		if !ok {
			return nil
		}
	}

	region, err := credstore.OpenFileRegion(cfg.Storage.Path, cfg.Storage.Size)
	if err != nil {
		p.Failure("Cannot open credential region", err, "Check storage.path in the config file and its permissions")
		return err
	}
	defer region.Close()

	if err := credstore.New(region, restartNotice{p: p}).Clear(); err != nil {
		return fmt.Errorf("erase failed: %w", err)
	}
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults",
	Example: `  # Write the default config to the XDG config dir
  lumen-fw config init

  # Write to a system location, replacing any existing file
  lumen-fw config init --config /etc/lumen/lumen-fw.yaml --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			p, err := config.DefaultPath()
			if err != nil {
				return err
			}
			path = p
		}

		if _, err := os.Stat(path); err == nil && !forceConfig {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cannot access %s: %w", path, err)
		}

		if err := config.Default().Save(path); err != nil {
			return err
		}
		ui.NewPrinter(cmd.OutOrStdout()).Success("Config written", ui.Detail{Key: "Path", Value: path})
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration the daemon would run with: the config file
merged over the defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, data)
		return nil
	},
}
