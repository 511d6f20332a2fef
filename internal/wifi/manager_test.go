package wifi

import (
	"net"
	"testing"
	"time"

	"github.com/muurk/lumen/internal/credstore"
	"github.com/muurk/lumen/internal/indicator"
)

var testMAC = net.HardwareAddr{0x24, 0x0a, 0xc4, 0x12, 0xab, 0xcd}

type fakeAdvertiser struct {
	advertised int
	withdrawn  int
	active     bool
}

func (a *fakeAdvertiser) Advertise() error {
	a.advertised++
	a.active = true
	return nil
}

func (a *fakeAdvertiser) Withdraw() {
	a.withdrawn++
	a.active = false
}

type harness struct {
	now   time.Time
	radio *SimRadio
	store *credstore.Store
	adv   *fakeAdvertiser
	ind   *indicator.Indicator
	mgr   *Manager
	trans []Transition
}

func newHarness(t *testing.T, networks ...SimNetwork) *harness {
	t.Helper()

	h := &harness{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	h.radio = NewSimRadio(testMAC, networks...)
	h.radio.SetClock(func() time.Time { return h.now })
	h.radio.AssociateDelay = 3 * time.Second
	h.store = credstore.New(credstore.NewMemoryRegion(credstore.DefaultRegionSize), nil)
	h.adv = &fakeAdvertiser{}
	h.ind = indicator.New(indicator.NewMemoryStrip(1))

	mgr, err := NewManager(h.radio, h.store, h.adv, h.ind, Config{Product: "Lumen", AttachTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	mgr.OnTransition(func(tr Transition) { h.trans = append(h.trans, tr) })
	h.mgr = mgr
	return h
}

// run ticks the manager every 50ms for d.
func (h *harness) run(d time.Duration) {
	end := h.now.Add(d)
	for h.now.Before(end) {
		h.now = h.now.Add(50 * time.Millisecond)
		h.mgr.Tick(h.now)
	}
}

func TestAPName(t *testing.T) {
	if got := APName("Lumen", testMAC); got != "Lumen_12ABCD" {
		t.Errorf("APName() = %q, want Lumen_12ABCD", got)
	}
	if got := HostName("Lumen", testMAC); got != "lumen-12abcd" {
		t.Errorf("HostName() = %q, want lumen-12abcd", got)
	}
}

func TestBootWithEmptyStoreProvisions(t *testing.T) {
	h := newHarness(t)
	h.mgr.Start(h.now)

	if h.mgr.State() != StateProvisioning {
		t.Fatalf("State() = %v, want provisioning", h.mgr.State())
	}
	if got := h.radio.APSSID(); got != "Lumen_12ABCD" {
		t.Errorf("access point SSID = %q, want Lumen_12ABCD", got)
	}
	if h.ind.Pattern() != indicator.PatternProvisioning {
		t.Errorf("Pattern() = %v, want provisioning", h.ind.Pattern())
	}
}

func TestBootWithCredentialsAttaches(t *testing.T) {
	h := newHarness(t, SimNetwork{SSID: "home", Passphrase: "secret123"})
	if err := h.store.Save("home", "secret123"); err != nil {
		t.Fatal(err)
	}

	h.mgr.Start(h.now)
	if h.mgr.State() != StateAttaching {
		t.Fatalf("State() = %v, want attaching", h.mgr.State())
	}
	if h.ind.Pattern() != indicator.PatternAttaching {
		t.Errorf("Pattern() = %v, want attaching", h.ind.Pattern())
	}

	h.run(4 * time.Second)
	if h.mgr.State() != StateAttached {
		t.Fatalf("State() = %v, want attached", h.mgr.State())
	}
	if h.adv.advertised != 1 {
		t.Errorf("advertisements = %d, want 1", h.adv.advertised)
	}
	if h.radio.APSSID() != "" {
		t.Error("access point running while attached")
	}
}

func TestSubmitCredentialsLeavesProvisioning(t *testing.T) {
	h := newHarness(t, SimNetwork{SSID: "home", Passphrase: "secret123"})
	h.mgr.Start(h.now)

	if err := h.mgr.SubmitCredentials(h.now, "home", "secret123"); err != nil {
		t.Fatalf("SubmitCredentials() error = %v", err)
	}
	if h.mgr.State() != StateAttaching {
		t.Fatalf("State() = %v, want attaching", h.mgr.State())
	}
	if h.radio.APSSID() != "" {
		t.Error("access point still running after credential submission")
	}
	if got := h.store.Load(); got.SSID != "home" || got.Passphrase != "secret123" {
		t.Errorf("stored credentials = %+v", got)
	}
}

func TestSubmitInvalidCredentialsChangesNothing(t *testing.T) {
	h := newHarness(t)
	h.mgr.Start(h.now)
	before := len(h.trans)

	if err := h.mgr.SubmitCredentials(h.now, "", "pw"); err == nil {
		t.Fatal("SubmitCredentials(empty ssid) error = nil")
	}
	if h.mgr.State() != StateProvisioning || len(h.trans) != before {
		t.Errorf("state changed after rejected submission: %v", h.mgr.State())
	}
	if h.radio.APSSID() == "" {
		t.Error("access point stopped after rejected submission")
	}
}

func TestAttachTimeoutFallsBackToProvisioning(t *testing.T) {
	h := newHarness(t) // "home" is not in range
	_ = h.store.Save("home", "secret123")
	h.mgr.Start(h.now)

	h.run(29 * time.Second)
	if h.mgr.State() != StateAttaching {
		t.Fatalf("State() before timeout = %v, want attaching", h.mgr.State())
	}

	h.run(2 * time.Second)
	if h.mgr.State() != StateProvisioning {
		t.Fatalf("State() after timeout = %v, want provisioning", h.mgr.State())
	}
	if h.radio.APSSID() != "Lumen_12ABCD" {
		t.Error("access point not started after timeout")
	}
	if got := h.store.Load(); got.SSID != "home" {
		t.Errorf("credentials dropped after timeout: %+v", got)
	}
}

func TestWrongPassphraseTimesOut(t *testing.T) {
	h := newHarness(t, SimNetwork{SSID: "home", Passphrase: "right"})
	h.mgr.Start(h.now)
	_ = h.mgr.SubmitCredentials(h.now, "home", "wrong")

	h.run(31 * time.Second)
	if h.mgr.State() != StateProvisioning {
		t.Errorf("State() = %v, want provisioning", h.mgr.State())
	}
}

func TestLinkLossRecovers(t *testing.T) {
	h := newHarness(t, SimNetwork{SSID: "home", Passphrase: "secret123"})
	_ = h.store.Save("home", "secret123")
	h.mgr.Start(h.now)
	h.run(4 * time.Second)

	h.radio.DropLink()
	h.mgr.Tick(h.now)
	if h.mgr.State() != StateRecovering {
		t.Fatalf("State() after drop = %v, want recovering", h.mgr.State())
	}
	if h.adv.active {
		t.Error("advertisement still active while recovering")
	}
	if h.ind.Pattern() != indicator.PatternAttaching {
		t.Errorf("Pattern() = %v, want attaching pulse", h.ind.Pattern())
	}
	if h.radio.Connects() != 2 {
		t.Errorf("connection attempts = %d, want 2", h.radio.Connects())
	}

	h.run(4 * time.Second)
	if h.mgr.State() != StateAttached {
		t.Fatalf("State() = %v, want attached", h.mgr.State())
	}
	if h.adv.advertised != 2 {
		t.Errorf("advertisements = %d, want re-registration after recovery", h.adv.advertised)
	}
}

func TestRecoveryTimeoutUsesSameBound(t *testing.T) {
	h := newHarness(t, SimNetwork{SSID: "home", Passphrase: "secret123"})
	_ = h.store.Save("home", "secret123")
	h.mgr.Start(h.now)
	h.run(4 * time.Second)

	h.radio.RemoveNetwork("home")
	h.radio.DropLink()
	h.mgr.Tick(h.now)

	h.run(29 * time.Second)
	if h.mgr.State() != StateRecovering {
		t.Fatalf("State() = %v, want recovering inside the bound", h.mgr.State())
	}
	h.run(2 * time.Second)
	if h.mgr.State() != StateProvisioning {
		t.Fatalf("State() = %v, want provisioning after the bound", h.mgr.State())
	}
	if got := h.store.Load(); got.Empty() {
		t.Error("credentials dropped after failed recovery")
	}
}

func TestTransitionsAreReported(t *testing.T) {
	h := newHarness(t, SimNetwork{SSID: "home", Passphrase: "secret123"})
	h.mgr.Start(h.now)
	_ = h.mgr.SubmitCredentials(h.now, "home", "secret123")
	h.run(4 * time.Second)

	want := []State{StateProvisioning, StateAttaching, StateAttached}
	if len(h.trans) != len(want) {
		t.Fatalf("transitions = %+v, want %d", h.trans, len(want))
	}
	for i, s := range want {
		if h.trans[i].To != s {
			t.Errorf("transition %d to %v, want %v", i, h.trans[i].To, s)
		}
	}
}
