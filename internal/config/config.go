package config

import (
	"errors"
	"fmt"
	"time"
)

// CurrentVersion is the config file format version.
const CurrentVersion = 1

// Config is the lumen-fw configuration file.
type Config struct {
	Version  int            `yaml:"version"`
	Product  string         `yaml:"product"`
	LogLevel string         `yaml:"log_level,omitempty"`
	HTTP     HTTPConfig     `yaml:"http"`
	Loop     LoopConfig     `yaml:"loop"`
	Radio    RadioConfig    `yaml:"radio"`
	Strip    StripConfig    `yaml:"strip"`
	Button   ButtonConfig   `yaml:"button"`
	Storage  StorageConfig  `yaml:"storage"`
	Firmware FirmwareConfig `yaml:"firmware"`
	MDNS     MDNSConfig     `yaml:"mdns"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// HTTPConfig is the control surface listener.
type HTTPConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CommandRate    float64       `yaml:"command_rate"`
	CommandBurst   int           `yaml:"command_burst"`
	Metrics        bool          `yaml:"metrics"`
}

// LoopConfig tunes the owner loop.
type LoopConfig struct {
	Tick          time.Duration `yaml:"tick"`
	AttachTimeout time.Duration `yaml:"attach_timeout"`
	HoldThreshold time.Duration `yaml:"hold_threshold"`
}

// Backend names and simulation defaults.
const (
	RadioSim    = "sim"
	RadioNMCLI  = "nmcli"
	StripLog    = "log"
	StripFile   = "file"
	ButtonNone  = "none"
	ButtonGPIO  = "gpio"
	DefaultMAC  = "24:0a:c4:12:ab:cd"
	DefaultName = "Lumen"
)

// RadioConfig selects the wireless backend.
type RadioConfig struct {
	Driver    string `yaml:"driver"`
	Interface string `yaml:"interface,omitempty"`

	// Simulation only.
	MAC            string        `yaml:"mac,omitempty"`
	AssociateDelay time.Duration `yaml:"associate_delay,omitempty"`
	Networks       []SimNetwork  `yaml:"networks,omitempty"`
}

// SimNetwork is a network the simulated radio can see.
type SimNetwork struct {
	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase,omitempty"`
	RSSI       int    `yaml:"rssi"`
}

// StripConfig selects the LED strip backend.
type StripConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path,omitempty"`
	Length int    `yaml:"length"`
}

// ButtonConfig selects the reset button input.
type ButtonConfig struct {
	Driver string `yaml:"driver"`
	Chip   string `yaml:"chip,omitempty"`
	Line   int    `yaml:"line,omitempty"`
}

// StorageConfig is the credential region file.
type StorageConfig struct {
	Path string `yaml:"path"`
	Size int    `yaml:"size"`
}

// FirmwareConfig is the A/B slot directory.
type FirmwareConfig struct {
	Dir      string        `yaml:"dir"`
	Capacity int64         `yaml:"capacity"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MDNSConfig controls advertisement once attached.
type MDNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface,omitempty"`
}

// MQTTConfig is the optional broker bridge.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	QoS      byte   `yaml:"qos"`
}

// Default returns the configuration used when no file exists. It runs a
// simulated fixture with state under /var/lib/lumen.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Product: DefaultName,
		HTTP: HTTPConfig{
			Port:           80,
			RequestTimeout: 5 * time.Second,
			CommandRate:    5,
			CommandBurst:   10,
			Metrics:        true,
		},
		Loop: LoopConfig{
			Tick:          50 * time.Millisecond,
			AttachTimeout: 30 * time.Second,
			HoldThreshold: 3 * time.Second,
		},
		Radio: RadioConfig{
			Driver:         RadioSim,
			MAC:            DefaultMAC,
			AssociateDelay: 2 * time.Second,
		},
		Strip:    StripConfig{Driver: StripLog, Length: 8},
		Button:   ButtonConfig{Driver: ButtonNone},
		Storage:  StorageConfig{Path: "/var/lib/lumen/credentials.bin", Size: 128},
		Firmware: FirmwareConfig{Dir: "/var/lib/lumen/firmware", Capacity: 16 << 20, Timeout: 5 * time.Minute},
		MDNS:     MDNSConfig{Enabled: true},
		MQTT:     MQTTConfig{Prefix: "lumen", QoS: 1},
	}
}

// minRegionSize fits the longest credentials the store accepts.
const minRegionSize = 3 + 1 + 31 + 1 + 63

// Validate reports every problem in c, joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Version == CurrentVersion, "unsupported config version %d (want %d)", c.Version, CurrentVersion)
	check(c.Product != "", "product must not be empty")
	check(c.HTTP.Port > 0 && c.HTTP.Port < 65536, "http.port %d out of range", c.HTTP.Port)
	check(c.HTTP.CommandRate > 0, "http.command_rate must be positive")
	check(c.Loop.Tick > 0, "loop.tick must be positive")
	check(c.Loop.AttachTimeout >= c.Loop.Tick, "loop.attach_timeout must be at least one tick")
	check(c.Loop.HoldThreshold >= c.Loop.Tick, "loop.hold_threshold must be at least one tick")
	check(c.Radio.Driver == RadioSim || c.Radio.Driver == RadioNMCLI, "radio.driver %q is not sim or nmcli", c.Radio.Driver)
	check(c.Radio.Driver != RadioNMCLI || c.Radio.Interface != "", "radio.interface is required for nmcli")
	check(c.Strip.Driver == StripLog || c.Strip.Driver == StripFile, "strip.driver %q is not log or file", c.Strip.Driver)
	check(c.Strip.Driver != StripFile || c.Strip.Path != "", "strip.path is required for the file driver")
	check(c.Strip.Length > 0, "strip.length must be positive")
	check(c.Button.Driver == ButtonNone || c.Button.Driver == ButtonGPIO, "button.driver %q is not none or gpio", c.Button.Driver)
	check(c.Button.Driver != ButtonGPIO || c.Button.Chip != "", "button.chip is required for gpio")
	check(c.Storage.Size >= minRegionSize, "storage.size %d is below %d bytes", c.Storage.Size, minRegionSize)
	check(c.Firmware.Capacity > 0, "firmware.capacity must be positive")
	check(!c.MQTT.Enabled || c.MQTT.Broker != "", "mqtt.broker is required when mqtt is enabled")
	check(c.MQTT.QoS <= 2, "mqtt.qos %d is not 0, 1 or 2", c.MQTT.QoS)

	return errors.Join(errs...)
}
