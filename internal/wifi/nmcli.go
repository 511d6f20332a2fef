package wifi

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/logging"
)

const (
	apConnectionName = "lumen-ap"

	// statusCacheTTL limits how often Status shells out to nmcli.
	statusCacheTTL = 500 * time.Millisecond

	nmcliTimeout = 10 * time.Second
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// NMRadio drives a wireless interface through NetworkManager's nmcli.
type NMRadio struct {
	iface  string
	run    Runner
	logger *zap.Logger

	mu           sync.Mutex
	cached       LinkStatus
	cachedAt     time.Time
	statusWindow time.Duration
}

// NewNMRadio returns a radio for iface (for example "wlan0").
func NewNMRadio(iface string, run Runner) *NMRadio {
	if run == nil {
		run = ExecRunner
	}
	return &NMRadio{
		iface:        iface,
		run:          run,
		logger:       logging.Named("nmcli"),
		statusWindow: statusCacheTTL,
	}
}

func (r *NMRadio) nmcli(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), nmcliTimeout)
	defer cancel()
	return r.run(ctx, "nmcli", args...)
}

func (r *NMRadio) HardwareAddr() (net.HardwareAddr, error) {
	ifi, err := net.InterfaceByName(r.iface)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", r.iface, err)
	}
	if len(ifi.HardwareAddr) == 0 {
		return nil, fmt.Errorf("%s has no hardware address", r.iface)
	}
	return ifi.HardwareAddr, nil
}

func (r *NMRadio) StartAP(ssid string) error {
	// Replace any stale profile so the SSID always matches this unit.
	_, _ = r.nmcli("connection", "delete", apConnectionName)

	if _, err := r.nmcli("connection", "add",
		"type", "wifi",
		"ifname", r.iface,
		"con-name", apConnectionName,
		"autoconnect", "no",
		"ssid", ssid,
		"802-11-wireless.mode", "ap",
		"ipv4.method", "shared",
	); err != nil {
		return fmt.Errorf("failed to create access point profile: %w", err)
	}
	if _, err := r.nmcli("--wait", "0", "connection", "up", apConnectionName); err != nil {
		return fmt.Errorf("failed to activate access point: %w", err)
	}
	return nil
}

func (r *NMRadio) StopAP() error {
	if _, err := r.nmcli("connection", "down", apConnectionName); err != nil {
		return fmt.Errorf("failed to stop access point: %w", err)
	}
	return nil
}

func (r *NMRadio) Connect(ssid, passphrase string) error {
	args := []string{"--wait", "0", "device", "wifi", "connect", ssid}
	if passphrase != "" {
		args = append(args, "password", passphrase)
	}
	args = append(args, "ifname", r.iface)

	r.mu.Lock()
	r.cachedAt = time.Time{}
	r.mu.Unlock()

	if _, err := r.nmcli(args...); err != nil {
		return fmt.Errorf("failed to start connection to %q: %w", ssid, err)
	}
	return nil
}

func (r *NMRadio) Disconnect() error {
	r.mu.Lock()
	r.cachedAt = time.Time{}
	r.mu.Unlock()

	if _, err := r.nmcli("device", "disconnect", r.iface); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", r.iface, err)
	}
	return nil
}

func (r *NMRadio) Status() LinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cachedAt.IsZero() && time.Since(r.cachedAt) < r.statusWindow {
		return r.cached
	}

	out, err := r.nmcli("-t", "-f", "GENERAL.STATE,GENERAL.CONNECTION", "device", "show", r.iface)
	if err != nil {
		r.logger.Debug("Status query failed", zap.Error(err))
		r.cached = LinkDown
	} else {
		r.cached = parseDeviceState(string(out))
	}
	r.cachedAt = time.Now()
	return r.cached
}

func (r *NMRadio) Scan(ctx context.Context) ([]Network, error) {
	out, err := r.run(ctx, "nmcli", "-t", "-f", "SSID,SIGNAL,SECURITY", "device", "wifi", "list", "ifname", r.iface, "--rescan", "yes")
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return parseScan(string(out)), nil
}

// parseDeviceState maps nmcli's NM_DEVICE_STATE codes onto LinkStatus.
// The access point profile counts as down for station purposes.
func parseDeviceState(out string) LinkStatus {
	var code int
	var conn string
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch key {
		case "GENERAL.STATE":
			num, _, _ := strings.Cut(value, " ")
			code, _ = strconv.Atoi(num)
		case "GENERAL.CONNECTION":
			conn = value
		}
	}

	switch {
	case code == 100 && conn == apConnectionName:
		return LinkDown
	case code == 100:
		return LinkUp
	case code == 120:
		return LinkFailed
	case code >= 40 && code < 100:
		return LinkConnecting
	default:
		return LinkDown
	}
}

// parseScan parses terse SSID:SIGNAL:SECURITY rows. Signal is a 0-100
// quality which is mapped onto an approximate dBm value.
func parseScan(out string) []Network {
	seen := make(map[string]bool)
	var networks []Network
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitTerse(line)
		if len(fields) < 3 || fields[0] == "" || seen[fields[0]] {
			continue
		}
		quality, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		seen[fields[0]] = true
		security := strings.TrimSpace(fields[2])
		networks = append(networks, Network{
			SSID:    fields[0],
			RSSI:    quality/2 - 100,
			Secured: security != "" && security != "--",
		})
	}
	return networks
}

// splitTerse splits an nmcli terse row on unescaped colons.
func splitTerse(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}
