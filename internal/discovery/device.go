package discovery

import (
	"fmt"
	"time"
)

// Device is a Lumen fixture found on the network
type Device struct {
	// ID is the lower-case MAC suffix from the host name (e.g. "12abcd")
	ID string

	// Hostname is the mDNS host name (e.g. "lumen-12abcd.local.")
	Hostname string

	// Instance is the advertised service instance name
	Instance string

	// IP is the IPv4 address, or IPv6 when no IPv4 was advertised
	IP string

	// Port is the HTTP control port
	Port int

	// Metadata holds the TXT record keys, e.g. "product", "fw", "mac"
	Metadata map[string]string

	// DiscoveredAt is when the device answered
	DiscoveredAt time.Time
}

// String returns a human-readable description of the device
func (d *Device) String() string {
	return fmt.Sprintf("Lumen %s (%s) at %s:%d", d.ID, d.Hostname, d.IP, d.Port)
}

// BaseURL returns the HTTP base URL for the device
func (d *Device) BaseURL() string {
	return fmt.Sprintf("http://%s", joinHostPort(d.IP, d.Port))
}

// Firmware returns the advertised firmware version, if any
func (d *Device) Firmware() string {
	return d.GetMetadata(TXTFirmware)
}

// GetMetadata retrieves a TXT value by key, or "" when absent
func (d *Device) GetMetadata(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}
