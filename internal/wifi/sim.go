package wifi

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"
)

// SimNetwork is an access point visible to a SimRadio.
type SimNetwork struct {
	SSID       string
	Passphrase string
	RSSI       int
}

// SimRadio is an in-process radio for running without wireless hardware.
// Associations succeed after AssociateDelay when the SSID is known and
// the passphrase matches.
type SimRadio struct {
	mu sync.Mutex

	mac            net.HardwareAddr
	networks       map[string]SimNetwork
	AssociateDelay time.Duration
	now            func() time.Time

	apSSID    string
	target    string
	pass      string
	connectAt time.Time
	dropped   bool
	connects  int
}

// NewSimRadio returns a SimRadio with the given hardware address.
func NewSimRadio(mac net.HardwareAddr, networks ...SimNetwork) *SimRadio {
	r := &SimRadio{
		mac:            mac,
		networks:       make(map[string]SimNetwork),
		AssociateDelay: 2 * time.Second,
		now:            time.Now,
	}
	for _, n := range networks {
		r.networks[n.SSID] = n
	}
	return r
}

// SetClock replaces the radio's time source.
func (r *SimRadio) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// AddNetwork makes a network visible.
func (r *SimRadio) AddNetwork(n SimNetwork) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.networks[n.SSID] = n
}

// RemoveNetwork makes a network disappear, dropping the link if joined.
func (r *SimRadio) RemoveNetwork(ssid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.networks, ssid)
}

// DropLink simulates a link loss; the link stays down until the next Connect.
func (r *SimRadio) DropLink() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = true
}

// APSSID returns the SSID of the running access point, or "".
func (r *SimRadio) APSSID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apSSID
}

// Connects returns how many connection attempts were started.
func (r *SimRadio) Connects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

func (r *SimRadio) HardwareAddr() (net.HardwareAddr, error) {
	if len(r.mac) == 0 {
		return nil, errors.New("no hardware address")
	}
	return r.mac, nil
}

func (r *SimRadio) StartAP(ssid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apSSID = ssid
	return nil
}

func (r *SimRadio) StopAP() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apSSID = ""
	return nil
}

func (r *SimRadio) Connect(ssid, passphrase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = ssid
	r.pass = passphrase
	r.connectAt = r.now().Add(r.AssociateDelay)
	r.dropped = false
	r.connects++
	return nil
}

func (r *SimRadio) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = ""
	return nil
}

func (r *SimRadio) Status() LinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.target == "" || r.dropped {
		return LinkDown
	}
	n, ok := r.networks[r.target]
	if !ok {
		return LinkConnecting
	}
	if n.Passphrase != r.pass {
		return LinkFailed
	}
	if r.now().Before(r.connectAt) {
		return LinkConnecting
	}
	return LinkUp
}

func (r *SimRadio) Scan(ctx context.Context) ([]Network, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, Network{SSID: n.SSID, RSSI: n.RSSI, Secured: n.Passphrase != ""})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RSSI > out[j].RSSI })
	return out, nil
}
