package discovery

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type fixtures advertise
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// DefaultScanTimeout is the default discovery window
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is the default HTTP control port
	DefaultPort = 80

	// DefaultProduct is the product name fixtures ship with
	DefaultProduct = "Lumen"
)

// TXT record keys published by fixtures
const (
	TXTProduct  = "product"
	TXTFirmware = "fw"
	TXTMAC      = "mac"
	TXTPath     = "path"
)

// HostPattern matches the host names of fixtures of the given product
// (e.g. "lumen-12abcd.local." for "Lumen"). The first group is the ID.
func HostPattern(product string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(strings.ToLower(product)) + `-([0-9a-f]{6})\.local\.?$`)
}

// Scanner browses the local network for fixtures
type Scanner struct {
	// Timeout bounds one scan
	Timeout time.Duration

	hosts *regexp.Regexp
}

// NewScanner creates a scanner for default fixtures with the default timeout
func NewScanner() *Scanner {
	return NewProductScanner(DefaultProduct)
}

// NewProductScanner creates a scanner for fixtures configured with a
// different product name
func NewProductScanner(product string) *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
		hosts:   HostPattern(product),
	}
}

// ScanForDevicesWithContext discovers fixtures until ctx ends or the timeout passes
func (s *Scanner) ScanForDevicesWithContext(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu      sync.Mutex
		devices = make([]*Device, 0)
		seen    = make(map[string]bool)
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		for entry := range entries {
			device := s.parseServiceEntry(entry)
			if device == nil {
				continue
			}
			mu.Lock()
			if !seen[device.ID] {
				seen[device.ID] = true
				devices = append(devices, device)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once the context ends.
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Device(nil), devices...), nil
}

// WaitForDeviceWithContext waits for the fixture with the given ID until ctx ends
func (s *Scanner) WaitForDeviceWithContext(ctx context.Context, id string) (*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	id = strings.ToLower(id)
	entries := make(chan *zeroconf.ServiceEntry)
	deviceChan := make(chan *Device, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			device := s.parseServiceEntry(entry)
			if device != nil && device.ID == id {
				select {
				case deviceChan <- device:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case device := <-deviceChan:
		return device, nil
	case <-ctx.Done():
		select {
		case device := <-deviceChan:
			return device, nil
		default:
		}
		return nil, fmt.Errorf("fixture %s not found within %s", id, s.Timeout)
	}
}

// parseServiceEntry converts a service entry to a Device, or nil when the
// entry is not a fixture
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	hostname := strings.ToLower(entry.HostName)
	if hostname == "" {
		return nil
	}

	if s.hosts == nil {
		s.hosts = HostPattern(DefaultProduct)
	}
	matches := s.hosts.FindStringSubmatch(hostname)
	if len(matches) < 2 {
		return nil
	}

	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	return &Device{
		ID:           matches[1],
		Hostname:     entry.HostName,
		Instance:     entry.Instance,
		IP:           ip,
		Port:         port,
		Metadata:     ParseTXT(entry.Text),
		DiscoveredAt: time.Now(),
	}
}

// ParseTXT splits "key=value" TXT strings into a map. Keys without a
// value map to "".
func ParseTXT(records []string) map[string]string {
	metadata := make(map[string]string, len(records))
	for _, txt := range records {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	return metadata
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
