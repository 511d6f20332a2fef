package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/logging"
)

// Advertiser publishes the fixture's control service over mDNS. It
// satisfies the connectivity manager's advertiser and is safe to call
// repeatedly: Advertise replaces any running registration.
type Advertiser struct {
	// Instance is the service instance name, e.g. "Lumen_12ABCD"
	Instance string
	// Host is the mDNS host name without domain, e.g. "lumen-12abcd"
	Host string
	Port int
	TXT  []string
	// Interface restricts the announcement to one interface. Empty means all.
	Interface string

	mu     sync.Mutex
	server *zeroconf.Server
	logger *zap.Logger
}

// NewAdvertiser creates an advertiser for a fixture.
func NewAdvertiser(instance, host string, port int, txt []string, iface string) *Advertiser {
	return &Advertiser{
		Instance:  instance,
		Host:      host,
		Port:      port,
		TXT:       txt,
		Interface: iface,
		logger:    logging.Named("mdns"),
	}
}

// FixtureTXT builds the TXT records a fixture publishes.
func FixtureTXT(product, firmware string, mac net.HardwareAddr) []string {
	return []string{
		TXTProduct + "=" + product,
		TXTFirmware + "=" + firmware,
		TXTMAC + "=" + mac.String(),
		TXTPath + "=/",
	}
}

// Advertise starts (or restarts) the registration.
func (a *Advertiser) Advertise() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.shutdownLocked()

	ifaces, ips, err := a.addresses()
	if err != nil {
		return err
	}

	// Always a.Host, never the OS host name.
	server, err := zeroconf.RegisterProxy(a.Instance, ServiceType, ServiceDomain, a.Port, a.Host, ips, a.TXT, ifaces)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server

	a.logger.Info("mDNS service registered",
		zap.String("instance", a.Instance),
		zap.String("host", a.Host+"."+ServiceDomain),
		zap.Strings("ips", ips),
		zap.Int("port", a.Port),
	)
	return nil
}

// Withdraw stops the registration, if any.
func (a *Advertiser) Withdraw() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.logger.Info("mDNS service withdrawn", zap.String("instance", a.Instance))
	}
	a.shutdownLocked()
}

// Active reports whether a registration is running.
func (a *Advertiser) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

func (a *Advertiser) shutdownLocked() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Interface enumeration, replaced in tests.
var (
	listInterfaces = net.Interfaces
	interfaceAddrs = func(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() }
)

// addresses returns the interfaces to announce on and their IPv4
// addresses. With no Interface set every interface that is up, not
// loopback and has an IPv4 address is used.
func (a *Advertiser) addresses() ([]net.Interface, []string, error) {
	var candidates []net.Interface
	if a.Interface != "" {
		iface, err := net.InterfaceByName(a.Interface)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up interface %s: %w", a.Interface, err)
		}
		candidates = []net.Interface{*iface}
	} else {
		all, err := listInterfaces()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list interfaces: %w", err)
		}
		for _, iface := range all {
			if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
				candidates = append(candidates, iface)
			}
		}
	}

	var (
		ifaces []net.Interface
		ips    []string
	)
	for _, iface := range candidates {
		addrs, err := interfaceAddrs(iface)
		if err != nil {
			if a.Interface != "" {
				return nil, nil, fmt.Errorf("failed to read addresses of %s: %w", iface.Name, err)
			}
			continue
		}
		v4 := ipv4Strings(addrs)
		if len(v4) == 0 {
			continue
		}
		ifaces = append(ifaces, iface)
		ips = append(ips, v4...)
	}
	if len(ips) == 0 {
		if a.Interface != "" {
			return nil, nil, fmt.Errorf("interface %s has no IPv4 address", a.Interface)
		}
		return nil, nil, errors.New("no interface with an IPv4 address")
	}
	return ifaces, ips, nil
}

func ipv4Strings(addrs []net.Addr) []string {
	var ips []string
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			ips = append(ips, ip4.String())
		}
	}
	return ips
}
