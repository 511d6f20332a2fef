package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestScanner_parseServiceEntry(t *testing.T) {
	scanner := NewScanner()

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantID   string
		wantIP   string
		wantPort int
	}{
		{
			name: "fixture with IPv4",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "Lumen_12ABCD"},
				HostName:      "lumen-12abcd.local.",
				Port:          80,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"product=Lumen", "fw=1.2.0"},
			},
			wantID:   "12abcd",
			wantIP:   "192.168.4.16",
			wantPort: 80,
		},
		{
			name: "no trailing dot",
			entry: &zeroconf.ServiceEntry{
				HostName: "lumen-00ff10.local",
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
			},
			wantID:   "00ff10",
			wantIP:   "10.0.0.5",
			wantPort: 80,
		},
		{
			name: "upper case host",
			entry: &zeroconf.ServiceEntry{
				HostName: "Lumen-ABCDEF.local.",
				Port:     8080,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.100")},
			},
			wantID:   "abcdef",
			wantIP:   "192.168.1.100",
			wantPort: 8080,
		},
		{
			name: "no port defaults to 80",
			entry: &zeroconf.ServiceEntry{
				HostName: "lumen-111111.local",
				AddrIPv4: []net.IP{net.ParseIP("172.16.0.1")},
			},
			wantID:   "111111",
			wantIP:   "172.16.0.1",
			wantPort: 80,
		},
		{
			name: "other http service",
			entry: &zeroconf.ServiceEntry{
				HostName: "printer.local",
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name: "empty hostname",
			entry: &zeroconf.ServiceEntry{
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.1")},
			},
			wantNil: true,
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				HostName: "lumen-12abcd.local",
				Port:     80,
			},
			wantNil: true,
		},
		{
			name: "IPv6 only",
			entry: &zeroconf.ServiceEntry{
				HostName: "lumen-222222.local",
				Port:     80,
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			wantID:   "222222",
			wantIP:   "fe80::1",
			wantPort: 80,
		},
		{
			name: "prefers IPv4",
			entry: &zeroconf.ServiceEntry{
				HostName: "lumen-333333.local",
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.50")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::2")},
			},
			wantID:   "333333",
			wantIP:   "192.168.1.50",
			wantPort: 80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := scanner.parseServiceEntry(tt.entry)

			if tt.wantNil {
				if device != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", device)
				}
				return
			}
			if device == nil {
				t.Fatal("parseServiceEntry() = nil, want device")
			}

			if device.ID != tt.wantID {
				t.Errorf("device.ID = %v, want %v", device.ID, tt.wantID)
			}
			if device.IP != tt.wantIP {
				t.Errorf("device.IP = %v, want %v", device.IP, tt.wantIP)
			}
			if device.Port != tt.wantPort {
				t.Errorf("device.Port = %v, want %v", device.Port, tt.wantPort)
			}
			if device.Hostname != tt.entry.HostName {
				t.Errorf("device.Hostname = %v, want %v", device.Hostname, tt.entry.HostName)
			}
			if time.Since(device.DiscoveredAt) > time.Second {
				t.Errorf("device.DiscoveredAt is not recent: %v", device.DiscoveredAt)
			}
		})
	}
}

func TestParseTXT(t *testing.T) {
	got := ParseTXT([]string{"product=Lumen", "fw=1.2.0", "flag", "path=/", "eq=a=b"})
	want := map[string]string{
		"product": "Lumen",
		"fw":      "1.2.0",
		"flag":    "",
		"path":    "/",
		"eq":      "a=b",
	}

	if len(got) != len(want) {
		t.Errorf("ParseTXT() has %d entries, want %d", len(got), len(want))
	}
	for key, value := range want {
		if got[key] != value {
			t.Errorf("ParseTXT()[%q] = %q, want %q", key, got[key], value)
		}
	}
}

func TestFixtureTXTRoundTrip(t *testing.T) {
	mac := net.HardwareAddr{0x24, 0x0a, 0xc4, 0x12, 0xab, 0xcd}
	meta := ParseTXT(FixtureTXT("Lumen", "1.2.0", mac))

	if meta[TXTProduct] != "Lumen" || meta[TXTFirmware] != "1.2.0" || meta[TXTPath] != "/" {
		t.Errorf("metadata = %v", meta)
	}
	if meta[TXTMAC] != "24:0a:c4:12:ab:cd" {
		t.Errorf("mac = %q", meta[TXTMAC])
	}
}

func TestHostPattern(t *testing.T) {
	tests := []struct {
		hostname    string
		shouldMatch bool
		id          string
	}{
		{"lumen-12abcd.local", true, "12abcd"},
		{"lumen-12abcd.local.", true, "12abcd"},
		{"lumen-000000.local", true, "000000"},
		{"lumen-12abc.local", false, ""},
		{"lumen-12abcde.local", false, ""},
		{"lumen-12abzz.local", false, ""},
		{"lumen12abcd.local", false, ""},
		{"lumen-12abcd", false, ""},
		{"", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			matches := HostPattern(DefaultProduct).FindStringSubmatch(tt.hostname)
			if tt.shouldMatch {
				if len(matches) < 2 {
					t.Fatalf("HostPattern did not match %q", tt.hostname)
				}
				if matches[1] != tt.id {
					t.Errorf("HostPattern matched %q with id %q, want %q", tt.hostname, matches[1], tt.id)
				}
			} else if matches != nil {
				t.Errorf("HostPattern matched %q, want no match", tt.hostname)
			}
		})
	}
}

func TestProductScannerMatchesConfiguredProduct(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "Porch.Light_12ABCD"},
		HostName:      "porch.light-12abcd.local.",
		Port:          80,
		AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
	}

	if d := NewScanner().parseServiceEntry(entry); d != nil {
		t.Errorf("default scanner matched %q", entry.HostName)
	}
	d := NewProductScanner("Porch.Light").parseServiceEntry(entry)
	if d == nil || d.ID != "12abcd" {
		t.Fatalf("parseServiceEntry() = %v, want fixture 12abcd", d)
	}

	// The dot in the product name is literal.
	entry.HostName = "porchxlight-12abcd.local."
	if d := NewProductScanner("Porch.Light").parseServiceEntry(entry); d != nil {
		t.Errorf("matched %q", entry.HostName)
	}
}

func TestIPv4Strings(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)},
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPAddr{IP: net.ParseIP("127.0.0.1")},
		&net.IPAddr{IP: net.ParseIP("10.0.0.9")},
	}

	got := ipv4Strings(addrs)
	if len(got) != 2 || got[0] != "192.168.1.20" || got[1] != "10.0.0.9" {
		t.Errorf("ipv4Strings() = %v", got)
	}
}

func TestAdvertiserWithdrawWithoutAdvertise(t *testing.T) {
	a := NewAdvertiser("Lumen_12ABCD", "lumen-12abcd", 80, nil, "")
	a.Withdraw()
	if a.Active() {
		t.Error("Active() = true before Advertise")
	}
}

func stubInterfaces(t *testing.T, ifaces []net.Interface, addrs map[string][]net.Addr) {
	t.Helper()
	prevList, prevAddrs := listInterfaces, interfaceAddrs
	t.Cleanup(func() { listInterfaces, interfaceAddrs = prevList, prevAddrs })
	listInterfaces = func() ([]net.Interface, error) { return ifaces, nil }
	interfaceAddrs = func(iface net.Interface) ([]net.Addr, error) { return addrs[iface.Name], nil }
}

func TestAdvertiserAddressesWithoutInterface(t *testing.T) {
	stubInterfaces(t, []net.Interface{
		{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
		{Index: 2, Name: "wlan0", Flags: net.FlagUp | net.FlagMulticast},
		{Index: 3, Name: "eth0", Flags: net.FlagMulticast},
		{Index: 4, Name: "usb0", Flags: net.FlagUp},
	}, map[string][]net.Addr{
		"lo":    {&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)}},
		"wlan0": {&net.IPNet{IP: net.ParseIP("192.168.1.42"), Mask: net.CIDRMask(24, 32)}},
		"eth0":  {&net.IPNet{IP: net.ParseIP("10.0.0.5"), Mask: net.CIDRMask(24, 32)}},
		"usb0":  {&net.IPNet{IP: net.ParseIP("fe80::2"), Mask: net.CIDRMask(64, 128)}},
	})

	a := NewAdvertiser("Lumen_12ABCD", "lumen-12abcd", 80, nil, "")
	ifaces, ips, err := a.addresses()
	if err != nil {
		t.Fatalf("addresses() error = %v", err)
	}
	if len(ips) != 1 || ips[0] != "192.168.1.42" {
		t.Errorf("ips = %v, want [192.168.1.42]", ips)
	}
	if len(ifaces) != 1 || ifaces[0].Name != "wlan0" {
		t.Errorf("ifaces = %v, want [wlan0]", ifaces)
	}
}

func TestAdvertiserAddressesNoIPv4(t *testing.T) {
	stubInterfaces(t, []net.Interface{
		{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
	}, map[string][]net.Addr{
		"lo": {&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)}},
	})

	a := NewAdvertiser("Lumen_12ABCD", "lumen-12abcd", 80, nil, "")
	if _, _, err := a.addresses(); err == nil {
		t.Error("addresses() error = nil with only loopback")
	}
	if err := a.Advertise(); err == nil || a.Active() {
		t.Error("Advertise() registered without an address")
	}
}
