package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/muurk/lumen/internal/api"
	"github.com/muurk/lumen/internal/deviceclient"
	"github.com/muurk/lumen/internal/discovery"
	"github.com/muurk/lumen/internal/ui"
)

// Common flags for fixture commands
var (
	deviceAddr     string
	devicePort     int
	requestTimeout time.Duration
	scanWindow     time.Duration
	productName    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&deviceAddr, "device", "", "Fixture address or URL (skips discovery)")
	rootCmd.PersistentFlags().IntVar(&devicePort, "port", discovery.DefaultPort, "Fixture HTTP port")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", deviceclient.DefaultTimeout, "Per-request timeout")
	rootCmd.PersistentFlags().DurationVar(&scanWindow, "scan-timeout", discovery.DefaultScanTimeout, "mDNS discovery window")
	rootCmd.PersistentFlags().StringVar(&productName, "product", discovery.DefaultProduct, "Product name the fixtures are configured with")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(ledCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(watchCmd)
}

// newClient builds a client for --device, or for the one fixture that
// answers discovery.
func newClient(cmd *cobra.Command) (*deviceclient.Client, error) {
	var client *deviceclient.Client
	switch {
	case strings.Contains(deviceAddr, "://"):
		client = deviceclient.New(strings.TrimSuffix(deviceAddr, "/"))
	case deviceAddr != "":
		client = deviceclient.NewForHost(deviceAddr, devicePort)
	default:
		dev, err := discoverOne(cmd)
		if err != nil {
			return nil, err
		}
		client = deviceclient.New(dev.BaseURL())
	}
	client.SetTimeout(requestTimeout)
	return client, nil
}

func discoverOne(cmd *cobra.Command) (*discovery.Device, error) {
	devices, err := runDiscovery(cmd)
	if err != nil {
		return nil, err
	}
	switch len(devices) {
	case 0:
		return nil, errors.New("no fixtures found; pass --device with the fixture address")
	case 1:
		return devices[0], nil
	default:
		fmt.Fprintln(cmd.OutOrStdout(), ui.DeviceTable(devices))
		return nil, fmt.Errorf("found %d fixtures; pick one with --device", len(devices))
	}
}

func runDiscovery(cmd *cobra.Command) ([]*discovery.Device, error) {
	scanner := discovery.NewProductScanner(productName)
	scanner.Timeout = scanWindow
	return ui.RunDiscovery(cmd.OutOrStdout(), scanWindow, func() ([]*discovery.Device, error) {
		return scanner.ScanForDevicesWithContext(cmd.Context())
	})
}

// fail renders err with a troubleshooting hint and returns it.
func fail(cmd *cobra.Command, title string, err error) error {
	ui.NewPrinter(cmd.ErrOrStderr()).Failure(title, errors.New(deviceclient.ShortMessage(err)), deviceclient.Hint(err))
	return err
}

// discoverCmd lists fixtures on the network
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find Lumen fixtures on the network",
	Long: `Browse mDNS for Lumen fixtures and list the ones that answer.

Only attached fixtures advertise themselves. A fixture that is still
provisioning is reached on its access point instead.`,
	Example: `  # Browse for 5 seconds (default)
  lumen-cfg discover

  # Longer browse for busy networks
  lumen-cfg discover --scan-timeout 15s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := runDiscovery(cmd)
		if errors.Is(err, ui.ErrCancelled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}

		p := ui.NewPrinter(cmd.OutOrStdout())
		if len(devices) == 0 {
			p.Warning("No fixtures found",
				ui.Detail{Key: "Check", Value: "The fixture is powered and attached to this network"},
				ui.Detail{Key: "Check", Value: "Multicast is not filtered between you and the fixture"},
				ui.Detail{Key: "Try", Value: "A longer --scan-timeout, or --device with the address"},
			)
			return nil
		}
		p.Println(ui.DeviceTable(devices))
		p.Println(ui.HintStyle.Render(fmt.Sprintf("Found %d fixture(s). Use --device <address> with other commands.", len(devices))))
		return nil
	},
}

// infoCmd shows the fixture identity
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show fixture identity and connectivity",
	Example: `  lumen-cfg info --device 192.168.1.40`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		info, err := client.DeviceInfo(cmd.Context())
		if err != nil {
			return fail(cmd, "Cannot read fixture info", err)
		}

		details := []ui.Detail{
			{Key: "Name", Value: info.DeviceName},
			{Key: "mDNS", Value: info.MDNSName},
			{Key: "MAC", Value: info.MACAddress},
			{Key: "Firmware", Value: info.Version},
			{Key: "State", Value: info.State},
		}
		if info.SSID != "" {
			details = append(details, ui.Detail{Key: "Network", Value: info.SSID})
		}
		ui.NewPrinter(cmd.OutOrStdout()).Success("Lumen fixture", details...)
		return nil
	},
}

// scanCmd lists the networks the fixture can see
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List wireless networks visible to the fixture",
	Example: `  # From the fixture's provisioning access point
  lumen-cfg scan --device 10.42.0.1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		networks, err := client.Scan(cmd.Context())
		if err != nil {
			return fail(cmd, "Network scan failed", err)
		}

		p := ui.NewPrinter(cmd.OutOrStdout())
		if len(networks) == 0 {
			p.Warning("No networks visible")
			return nil
		}
		details := make([]ui.Detail, 0, len(networks))
		for _, n := range networks {
			details = append(details, ui.Detail{
				Key:   n.SSID,
				Value: fmt.Sprintf("%d dBm  %s", n.RSSI, n.Encryption),
			})
		}
		p.Success(fmt.Sprintf("%d network(s)", len(networks)), details...)
		return nil
	},
}

// Provision flags
var (
	provisionSSID       string
	provisionPassphrase string
	provisionWait       time.Duration
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Send wireless credentials to a fixture",
	Long: `Send network credentials to a fixture in provisioning mode.

The fixture answers before it has joined, then drops its access point
while it attaches. Once attached it is found with 'lumen-cfg discover'.
Without --passphrase the passphrase is read from the terminal. With
--wait the tool then browses mDNS until the fixture shows up attached.`,
	Example: `  # Prompt for the passphrase
  lumen-cfg provision --device 10.42.0.1 --ssid home

  # Open network
  lumen-cfg provision --device 10.42.0.1 --ssid cafe --passphrase ""

  # Wait up to two minutes for the fixture to appear on the network
  lumen-cfg provision --device 10.42.0.1 --ssid home --wait 2m`,
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().StringVar(&provisionSSID, "ssid", "", "Network name (required)")
	provisionCmd.Flags().StringVar(&provisionPassphrase, "passphrase", "", "Network passphrase (prompted when omitted)")
	provisionCmd.Flags().DurationVar(&provisionWait, "wait", 0, "Wait this long for the fixture to appear over mDNS")
	_ = provisionCmd.MarkFlagRequired("ssid")
}

func runProvision(cmd *cobra.Command, args []string) error {
	passphrase := provisionPassphrase
	if !cmd.Flags().Changed("passphrase") {
		pass, err := readPassphrase(cmd.InOrStdin(), cmd.ErrOrStderr(), provisionSSID)
		if err != nil {
			return err
		}
		passphrase = pass
	}

	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	info, err := client.DeviceInfo(cmd.Context())
	if err != nil {
		return fail(cmd, "Cannot reach fixture", err)
	}
	st, err := client.Connect(cmd.Context(), provisionSSID, passphrase)
	if err != nil {
		return fail(cmd, "Provisioning failed", err)
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	if provisionWait <= 0 {
		p.Success("Credentials accepted",
			ui.Detail{Key: "Fixture", Value: info.DeviceName},
			ui.Detail{Key: "Network", Value: provisionSSID},
			ui.Detail{Key: "Status", Value: st.Message},
			ui.Detail{Key: "Next", Value: "Rejoin your network and run 'lumen-cfg discover'"},
		)
		return nil
	}

	p.Println(ui.HintStyle.Render(fmt.Sprintf("Credentials accepted. Waiting up to %s for %s on %s...", provisionWait, info.DeviceName, provisionSSID)))
	scanner := discovery.NewProductScanner(productName)
	scanner.Timeout = provisionWait
	dev, err := scanner.WaitForDeviceWithContext(cmd.Context(), fixtureID(info.MACAddress))
	if err != nil {
		p.Failure("Fixture did not appear", err,
			"Check that this machine is back on "+provisionSSID+". A fixture that cannot join reopens its access point after the attach timeout.")
		return err
	}
	p.Success("Fixture attached",
		ui.Detail{Key: "Fixture", Value: info.DeviceName},
		ui.Detail{Key: "Network", Value: provisionSSID},
		ui.Detail{Key: "Address", Value: dev.BaseURL()},
	)
	return nil
}

// fixtureID is the lower-case MAC suffix fixtures use in their host name.
func fixtureID(mac string) string {
	digits := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(mac))
	if len(digits) < 6 {
		return digits
	}
	return digits[len(digits)-6:]
}

// readPassphrase prompts without echo on a terminal and reads a plain
// line otherwise.
func readPassphrase(in io.Reader, out io.Writer, ssid string) (string, error) {
	fmt.Fprintf(out, "Passphrase for %s: ", ssid)
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// LED flags
var (
	ledOn         bool
	ledOff        bool
	ledBrightness int
	ledColor      string
)

var ledCmd = &cobra.Command{
	Use:   "led",
	Short: "Show or change the LED",
	Long: `Show the LED state, or change it when any flag is given.

--off turns the strip off and keeps the stored color and brightness.
Colors are hex (#RRGGBB or #RRGGBBWW) or four comma-separated channels.`,
	Example: `  # Show the current state
  lumen-cfg led

  # Warm white at 40%
  lumen-cfg led --on --brightness 40 --color 0,0,0,255

  # Turn off
  lumen-cfg led --off`,
	RunE: runLED,
}

func init() {
	ledCmd.Flags().BoolVar(&ledOn, "on", false, "Turn the LED on")
	ledCmd.Flags().BoolVar(&ledOff, "off", false, "Turn the LED off")
	ledCmd.Flags().IntVar(&ledBrightness, "brightness", 0, "Brightness 0-100")
	ledCmd.Flags().StringVar(&ledColor, "color", "", "Color as #RRGGBB[WW] or r,g,b,w")
	ledCmd.MarkFlagsMutuallyExclusive("on", "off")
}

func runLED(cmd *cobra.Command, args []string) error {
	req, err := ledRequest(cmd)
	if err != nil {
		return err
	}

	client, err := newClient(cmd)
	if err != nil {
		return err
	}

	var st *api.LEDState
	if req == nil {
		st, err = client.LED(cmd.Context())
	} else {
		st, err = client.SetLED(cmd.Context(), *req)
	}
	if err != nil {
		return fail(cmd, "LED command failed", err)
	}

	power := "off"
	if st.IsOn {
		power = "on"
	}
	ui.NewPrinter(cmd.OutOrStdout()).Success("LED "+power,
		ui.Detail{Key: "Brightness", Value: fmt.Sprintf("%d%%", st.Brightness)},
		ui.Detail{Key: "Color", Value: formatColor(st.Color)},
	)
	return nil
}

// ledRequest builds the request from the flags, or nil when none is set.
func ledRequest(cmd *cobra.Command) (*api.LEDRequest, error) {
	var req api.LEDRequest
	set := false

	switch {
	case ledOff:
		s := api.StateOff
		req.State, set = &s, true
	case ledOn:
		s := api.StateOn
		req.State, set = &s, true
	}
	if cmd.Flags().Changed("brightness") {
		if ledBrightness < 0 || ledBrightness > 100 {
			return nil, fmt.Errorf("brightness %d is outside 0-100", ledBrightness)
		}
		b := ledBrightness
		req.Brightness, set = &b, true
	}
	if ledColor != "" {
		c, err := parseColor(ledColor)
		if err != nil {
			return nil, err
		}
		req.Color, set = &c, true
	}

	if !set {
		return nil, nil
	}
	return &req, nil
}

// parseColor accepts #RRGGBB, #RRGGBBWW or r,g,b[,w].
func parseColor(s string) (api.Color, error) {
	s = strings.TrimSpace(s)

	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		if len(parts) != 3 && len(parts) != 4 {
			return api.Color{}, fmt.Errorf("color %q needs 3 or 4 channels", s)
		}
		var ch [4]uint8
		for i, p := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return api.Color{}, fmt.Errorf("color channel %q is not 0-255", p)
			}
			ch[i] = uint8(v)
		}
		return api.Color{R: ch[0], G: ch[1], B: ch[2], W: ch[3]}, nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || (len(raw) != 3 && len(raw) != 4) {
		return api.Color{}, fmt.Errorf("color %q is not #RRGGBB or #RRGGBBWW", s)
	}
	c := api.Color{R: raw[0], G: raw[1], B: raw[2]}
	if len(raw) == 4 {
		c.W = raw[3]
	}
	return c, nil
}

func formatColor(c api.Color) string {
	return fmt.Sprintf("#%02x%02x%02x%02x (r=%d g=%d b=%d w=%d)", c.R, c.G, c.B, c.W, c.R, c.G, c.B, c.W)
}

// Update flags
var (
	updateNoWait  bool
	updateTimeout time.Duration
)

var updateCmd = &cobra.Command{
	Use:   "update <firmware-url>",
	Short: "Install firmware from a URL",
	Long: `Ask the fixture to download and install a firmware image, then follow
progress until it restarts into the new image or reports a failure.

The fixture fetches the URL itself, so it must be reachable from the
fixture's network. A failed update leaves the running image untouched.`,
	Example: `  lumen-cfg update http://192.168.1.10:8000/lumen-1.5.0.bin --device lumen-12abcd.local`,
	Args:    cobra.ExactArgs(1),
	RunE:    runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&updateNoWait, "no-wait", false, "Return once the update has started")
	updateCmd.Flags().DurationVar(&updateTimeout, "wait-timeout", 10*time.Minute, "How long to follow progress")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.Header("Firmware update", "lumen-cfg update", ui.Detail{Key: "Image", Value: args[0]}, ui.Detail{Key: "Fixture", Value: client.BaseURL})

	if err := client.UpdateFirmware(cmd.Context(), args[0]); err != nil {
		return fail(cmd, "Update not started", err)
	}
	if updateNoWait {
		p.Success("Update started", ui.Detail{Key: "Progress", Value: "lumen-cfg watch"})
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), updateTimeout)
	defer cancel()

	view := ui.NewUpdateView(p.Width())
	interactive := ui.IsTerminal()
	lastPhase := ""
	st, err := client.WaitForUpdate(ctx, deviceclient.DefaultPollInterval, func(st api.UpdateStatus) {
		switch {
		case interactive:
			// Redraw in place: bar line plus one line per phase.
			if lastPhase != "" {
				fmt.Fprint(p.Writer(), "\033[5A\033[J")
			}
			fmt.Fprint(p.Writer(), view.Render(st))
		case st.Phase != lastPhase:
			p.Println(fmt.Sprintf("  %s %s / %s", st.Phase, ui.FormatBytes(st.BytesWritten), ui.FormatBytes(st.ExpectedSize)))
		}
		lastPhase = st.Phase
	})
	if err != nil {
		return fail(cmd, "Lost track of the update", err)
	}

	if st.Phase == "failed" {
		err := fmt.Errorf("%s: %s", st.ErrorKind, st.Error)
		p.Failure("Update failed", err, "The fixture kept its current firmware. Check the URL is reachable from the fixture.")
		return err
	}
	details := []ui.Detail{{Key: "Size", Value: ui.FormatBytes(st.ExpectedSize)}}
	if st.SHA256 != "" {
		details = append(details, ui.Detail{Key: "SHA-256", Value: st.SHA256})
	}
	details = append(details, ui.Detail{Key: "Next", Value: "The fixture is restarting into the new image"})
	p.Success("Firmware installed", details...)
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the fixture event stream",
	Long: `Print fixture events as they happen: connectivity changes, LED
changes, firmware update progress and button actions. Stop with Ctrl+C.`,
	Example: `  lumen-cfg watch --device lumen-12abcd.local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		err = client.Watch(cmd.Context(), func(e deviceclient.Event) error {
			_, err := fmt.Fprintf(out, "%s %s %s\n",
				ui.HintStyle.Render(e.Time.Local().Format("15:04:05")),
				ui.KeyStyle.Render(fmt.Sprintf("%-6s", e.Type)),
				string(e.Data))
			return err
		})
		if err != nil {
			return fail(cmd, "Event stream ended", err)
		}
		return nil
	},
}
