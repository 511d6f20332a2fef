package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/button"
	"github.com/muurk/lumen/internal/config"
	"github.com/muurk/lumen/internal/credstore"
	"github.com/muurk/lumen/internal/device"
	"github.com/muurk/lumen/internal/discovery"
	"github.com/muurk/lumen/internal/firmware"
	"github.com/muurk/lumen/internal/indicator"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/metrics"
	"github.com/muurk/lumen/internal/mqtt"
	"github.com/muurk/lumen/internal/server"
	"github.com/muurk/lumen/internal/version"
	"github.com/muurk/lumen/internal/wifi"
)

// Run command flags
var (
	simulate bool
	logLevel string
	httpPort int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fixture daemon",
	Long: `Run the fixture daemon in the foreground until interrupted.

On a restart request (credential erase or installed firmware) the daemon
exits with status 75, which the service unit maps to a reboot.

With --simulate the radio, strip and button are replaced by in-process
stand-ins, so the whole control surface can be exercised on a laptop.`,
	Example: `  # Run with the config file from the default location
  lumen-fw run

  # Run a simulated fixture on port 8080 with debug logging
  lumen-fw run --simulate --port 8080 --log-level debug

  # Run with an explicit config file
  lumen-fw run --config /etc/lumen/lumen-fw.yaml`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "Use the simulated radio, a logging strip and no button")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	runCmd.Flags().IntVar(&httpPort, "port", 0, "HTTP port; overrides the config file")
}

func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if simulate {
		cfg.Radio.Driver = config.RadioSim
		cfg.Strip.Driver = config.StripLog
		cfg.Button.Driver = config.ButtonNone
	}
	if httpPort > 0 {
		cfg.HTTP.Port = httpPort
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if level == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		level = "info"
	}
	if err := logging.Initialize(level); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	logging.Info("Starting Lumen fixture",
		zap.String("version", version.Version),
		zap.String("config", path),
		zap.String("radio", cfg.Radio.Driver),
		zap.String("strip", cfg.Strip.Driver),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	restarter := device.NewProcessRestarter(cancel)

	fx, err := assemble(cfg, restarter)
	if err != nil {
		return err
	}
	defer fx.close()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logging.Error("Component stopped with error", zap.String("component", name), zap.Error(err))
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	spawn("device", func() error { return fx.dev.Run(ctx) })
	spawn("metrics", func() error { fx.metrics.Run(ctx, fx.dev.Events()); return nil })
	spawn("http", func() error { return fx.server.ListenAndServe(ctx) })
	if fx.bridge != nil {
		spawn("mqtt", func() error { return fx.bridge.Run(ctx) })
	}

	<-ctx.Done()
	wg.Wait()
	close(errCh)

	if reason, ok := restarter.Requested(); ok {
		logging.Info("Exiting for restart", zap.String("reason", reason))
		fx.close()
		logging.Sync()
		os.Exit(device.RestartExitCode)
	}

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	logging.Info("Lumen fixture stopped")
	return errors.Join(errs...)
}

// fixture is the assembled daemon.
type fixture struct {
	dev     *device.Device
	updater *firmware.Updater
	metrics *metrics.Metrics
	server  *server.Server
	bridge  *mqtt.Bridge
	closers []func()
	once    sync.Once
}

func (f *fixture) close() {
	f.once.Do(func() {
		for i := len(f.closers) - 1; i >= 0; i-- {
			f.closers[i]()
		}
	})
}

func assemble(cfg *config.Config, restarter *device.ProcessRestarter) (_ *fixture, err error) {
	fx := &fixture{}
	defer func() {
		if err != nil {
			fx.close()
		}
	}()

	radio, err := openRadio(cfg.Radio)
	if err != nil {
		return nil, err
	}
	mac, err := radio.HardwareAddr()
	if err != nil {
		return nil, fmt.Errorf("failed to read radio hardware address: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	region, err := credstore.OpenFileRegion(cfg.Storage.Path, cfg.Storage.Size)
	if err != nil {
		return nil, err
	}
	fx.closers = append(fx.closers, func() { _ = region.Close() })
	store := credstore.New(region, restarter)

	strip, err := openStrip(cfg.Strip)
	if err != nil {
		return nil, err
	}

	pin, err := openButton(cfg.Button)
	if err != nil {
		return nil, err
	}
	fx.closers = append(fx.closers, func() { _ = pin.Close() })

	parts := device.Parts{
		Radio: radio,
		Store: store,
		Strip: strip,
		Pin:   pin,
	}
	if cfg.MDNS.Enabled {
		parts.Advertiser = discovery.NewAdvertiser(
			wifi.APName(cfg.Product, mac),
			wifi.HostName(cfg.Product, mac),
			cfg.HTTP.Port,
			discovery.FixtureTXT(cfg.Product, version.Version, mac),
			cfg.MDNS.Interface,
		)
	}

	fx.dev, err = device.New(parts, device.Config{
		Product:       cfg.Product,
		Version:       version.Version,
		TickInterval:  cfg.Loop.Tick,
		AttachTimeout: cfg.Loop.AttachTimeout,
		HoldThreshold: cfg.Loop.HoldThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	slots, err := firmware.NewSlotPartition(cfg.Firmware.Dir, cfg.Firmware.Capacity)
	if err != nil {
		return nil, err
	}
	fx.updater = firmware.NewUpdater(slots, fx.dev, restarter, &http.Client{Timeout: cfg.Firmware.Timeout})
	fx.updater.OnStatus(fx.dev.PublishUpdate)

	fx.metrics = metrics.New(version.Current())
	var m *metrics.Metrics
	if cfg.HTTP.Metrics {
		m = fx.metrics
	}
	fx.server = server.New(server.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		CommandRate:    cfg.HTTP.CommandRate,
		CommandBurst:   cfg.HTTP.CommandBurst,
	}, fx.dev, fx.updater, m)

	if cfg.MQTT.Enabled {
		fx.bridge, err = dialBridge(cfg, mac, fx.dev)
		if err != nil {
			// The fixture stays usable over HTTP without a broker.
			logging.Warn("MQTT bridge disabled", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		} else {
			fx.closers = append(fx.closers, fx.bridge.Close)
		}
	}

	return fx, nil
}

func openRadio(cfg config.RadioConfig) (wifi.Radio, error) {
	switch cfg.Driver {
	case config.RadioNMCLI:
		return wifi.NewNMRadio(cfg.Interface, wifi.ExecRunner), nil
	case config.RadioSim:
		mac, err := net.ParseMAC(cfg.MAC)
		if err != nil {
			return nil, fmt.Errorf("invalid simulated MAC %q: %w", cfg.MAC, err)
		}
		networks := make([]wifi.SimNetwork, 0, len(cfg.Networks))
		for _, n := range cfg.Networks {
			networks = append(networks, wifi.SimNetwork{SSID: n.SSID, Passphrase: n.Passphrase, RSSI: n.RSSI})
		}
		radio := wifi.NewSimRadio(mac, networks...)
		radio.AssociateDelay = cfg.AssociateDelay
		return radio, nil
	default:
		return nil, fmt.Errorf("unknown radio driver %q", cfg.Driver)
	}
}

func openStrip(cfg config.StripConfig) (indicator.Strip, error) {
	switch cfg.Driver {
	case config.StripFile:
		return indicator.NewFileStrip(cfg.Path, cfg.Length)
	case config.StripLog:
		return indicator.NewLogStrip(cfg.Length), nil
	default:
		return nil, fmt.Errorf("unknown strip driver %q", cfg.Driver)
	}
}

// buttonPin is a button input that may hold a device handle.
type buttonPin interface {
	button.Pin
	Close() error
}

type nopPin struct{ button.NopPin }

func (nopPin) Close() error { return nil }

func openButton(cfg config.ButtonConfig) (buttonPin, error) {
	if cfg.Driver != config.ButtonGPIO {
		return nopPin{}, nil
	}
	p, err := button.OpenGPIOPin(cfg.Chip, cfg.Line)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func dialBridge(cfg *config.Config, mac net.HardwareAddr, dev *device.Device) (*mqtt.Bridge, error) {
	id := wifi.HostName(cfg.Product, mac)
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = id
	}
	prefix := cfg.MQTT.Prefix
	if prefix == "" {
		prefix = mqtt.DefaultPrefix
	}

	conn, err := mqtt.Dial(mqtt.Config{
		Broker:   cfg.MQTT.Broker,
		ClientID: clientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Prefix:   prefix,
		QoS:      cfg.MQTT.QoS,
	}, mqtt.AvailabilityTopic(prefix, id))
	if err != nil {
		return nil, err
	}
	return mqtt.NewBridge(conn, dev, prefix, id), nil
}
