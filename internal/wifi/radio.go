package wifi

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// LinkStatus is the station link state reported by a Radio.
type LinkStatus int

const (
	LinkDown LinkStatus = iota
	LinkConnecting
	LinkUp
	LinkFailed
)

func (s LinkStatus) String() string {
	switch s {
	case LinkDown:
		return "down"
	case LinkConnecting:
		return "connecting"
	case LinkUp:
		return "up"
	case LinkFailed:
		return "failed"
	default:
		return fmt.Sprintf("LinkStatus(%d)", int(s))
	}
}

// Network is one scan result.
type Network struct {
	SSID    string `json:"ssid"`
	RSSI    int    `json:"rssi"`
	Secured bool   `json:"-"`
}

// Encryption returns the label used on the control surface.
func (n Network) Encryption() string {
	if n.Secured {
		return "Secured"
	}
	return "Open"
}

// Radio is the wireless interface. None of its methods may block for the
// duration of an association: Connect begins one and Status reports
// progress.
type Radio interface {
	HardwareAddr() (net.HardwareAddr, error)
	// StartAP opens an open access point with the given SSID.
	StartAP(ssid string) error
	StopAP() error
	// Connect begins joining ssid and returns without waiting.
	Connect(ssid, passphrase string) error
	Disconnect() error
	Status() LinkStatus
	Scan(ctx context.Context) ([]Network, error)
}

// APName derives the per-unit access point SSID from the product name and
// the last three octets of the hardware address.
func APName(product string, mac net.HardwareAddr) string {
	return product + "_" + macSuffix(mac)
}

// HostName derives the mDNS host name for the unit.
func HostName(product string, mac net.HardwareAddr) string {
	return strings.ToLower(product) + "-" + strings.ToLower(macSuffix(mac))
}

func macSuffix(mac net.HardwareAddr) string {
	if len(mac) < 3 {
		return "000000"
	}
	tail := mac[len(mac)-3:]
	return fmt.Sprintf("%02X%02X%02X", tail[0], tail[1], tail[2])
}
