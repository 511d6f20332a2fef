package wifi

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/credstore"
	"github.com/muurk/lumen/internal/indicator"
	"github.com/muurk/lumen/internal/logging"
)

const (
	// DefaultAttachTimeout bounds every connection attempt, initial or recovery.
	DefaultAttachTimeout = 30 * time.Second

	// apRetryInterval spaces out retries when the access point fails to start.
	apRetryInterval = 5 * time.Second
)

// State is the connectivity lifecycle state.
type State int

const (
	StateProvisioning State = iota
	StateAttaching
	StateAttached
	StateRecovering
)

func (s State) String() string {
	switch s {
	case StateProvisioning:
		return "provisioning"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateRecovering:
		return "recovering"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Pattern returns the indicator blink pattern for s.
func (s State) Pattern() indicator.Pattern {
	switch s {
	case StateProvisioning:
		return indicator.PatternProvisioning
	case StateAttaching, StateRecovering:
		return indicator.PatternAttaching
	default:
		return indicator.PatternNone
	}
}

// CredentialStore is the persistence the manager needs.
type CredentialStore interface {
	Load() credstore.Credentials
	Save(ssid, passphrase string) error
}

// Advertiser publishes the unit on the attached network.
type Advertiser interface {
	Advertise() error
	Withdraw()
}

// PatternSink receives the blink pattern for each state.
type PatternSink interface {
	SetPattern(p indicator.Pattern, now time.Time)
}

// Transition describes one state change.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Config configures a Manager.
type Config struct {
	// Product prefixes the access point SSID.
	Product string
	// AttachTimeout bounds Attaching and Recovering alike.
	AttachTimeout time.Duration
}

// Manager owns the connectivity state machine. Every method is
// non-blocking and must be called from one goroutine.
type Manager struct {
	radio  Radio
	store  CredentialStore
	adv    Advertiser
	sink   PatternSink
	cfg    Config
	logger *zap.Logger

	state        State
	attemptStart time.Time
	apSSID       string
	apUp         bool
	apAttempt    time.Time
	ssid         string

	onTransition []func(Transition)
}

// NewManager wires a Manager. adv and sink may be nil.
func NewManager(radio Radio, store CredentialStore, adv Advertiser, sink PatternSink, cfg Config) (*Manager, error) {
	if cfg.AttachTimeout <= 0 {
		cfg.AttachTimeout = DefaultAttachTimeout
	}
	if cfg.Product == "" {
		cfg.Product = "Lumen"
	}

	mac, err := radio.HardwareAddr()
	if err != nil {
		return nil, fmt.Errorf("failed to read hardware address: %w", err)
	}

	return &Manager{
		radio:  radio,
		store:  store,
		adv:    adv,
		sink:   sink,
		cfg:    cfg,
		logger: logging.Named("wifi"),
		apSSID: APName(cfg.Product, mac),
	}, nil
}

// OnTransition registers fn to run after every state change.
func (m *Manager) OnTransition(fn func(Transition)) {
	m.onTransition = append(m.onTransition, fn)
}

// State returns the current state.
func (m *Manager) State() State { return m.state }

// APSSID returns the access point SSID of this unit.
func (m *Manager) APSSID() string { return m.apSSID }

// SSID returns the network being joined or joined, if any.
func (m *Manager) SSID() string { return m.ssid }

// AttemptStarted returns when the current connection attempt began.
func (m *Manager) AttemptStarted() time.Time { return m.attemptStart }

// Start chooses the boot state from the stored credentials.
func (m *Manager) Start(now time.Time) {
	if m.store.Load().Empty() {
		m.enterProvisioning(now, "no stored credentials")
		return
	}
	m.enterAttaching(now, StateAttaching, "stored credentials found")
}

// SubmitCredentials persists new credentials and starts joining them.
// Nothing changes when the credentials are rejected by the store.
func (m *Manager) SubmitCredentials(now time.Time, ssid, passphrase string) error {
	if err := m.store.Save(ssid, passphrase); err != nil {
		return err
	}
	if m.apUp {
		if err := m.radio.StopAP(); err != nil {
			m.logger.Warn("Failed to stop access point", zap.Error(err))
		}
		m.apUp = false
	}
	if m.state == StateAttached {
		m.withdraw()
	}
	m.enterAttaching(now, StateAttaching, "credentials submitted")
	return nil
}

// Tick advances the state machine with one non-blocking status poll.
func (m *Manager) Tick(now time.Time) {
	switch m.state {
	case StateProvisioning:
		if !m.apUp && now.Sub(m.apAttempt) >= apRetryInterval {
			m.startAP(now)
		}

	case StateAttaching, StateRecovering:
		switch status := m.radio.Status(); {
		case status == LinkUp:
			m.enterAttached(now)
		case now.Sub(m.attemptStart) >= m.cfg.AttachTimeout:
			m.logger.Warn("Connection attempt timed out",
				zap.String("ssid", m.ssid),
				zap.Duration("timeout", m.cfg.AttachTimeout),
				zap.Stringer("last_status", status),
			)
			if err := m.radio.Disconnect(); err != nil {
				m.logger.Warn("Failed to abandon connection attempt", zap.Error(err))
			}
			m.enterProvisioning(now, "attach timeout")
		}

	case StateAttached:
		if m.radio.Status() != LinkUp {
			m.withdraw()
			m.enterAttaching(now, StateRecovering, "link lost")
		}
	}
}

func (m *Manager) enterProvisioning(now time.Time, reason string) {
	m.ssid = ""
	m.transition(now, StateProvisioning, reason)
	m.startAP(now)
}

func (m *Manager) startAP(now time.Time) {
	m.apAttempt = now
	if err := m.radio.StartAP(m.apSSID); err != nil {
		m.logger.Error("Failed to start access point",
			zap.String("ap_ssid", m.apSSID),
			zap.Error(err),
		)
		return
	}
	m.apUp = true
	m.logger.Info("Access point started", zap.String("ap_ssid", m.apSSID))
}

func (m *Manager) enterAttaching(now time.Time, to State, reason string) {
	creds := m.store.Load()
	if creds.Empty() {
		m.enterProvisioning(now, "credentials missing")
		return
	}

	m.ssid = creds.SSID
	m.attemptStart = now
	m.transition(now, to, reason)

	if err := m.radio.Connect(creds.SSID, creds.Passphrase); err != nil {
		// The attempt still times out into provisioning.
		m.logger.Error("Failed to begin connection", zap.String("ssid", creds.SSID), zap.Error(err))
	}
}

func (m *Manager) enterAttached(now time.Time) {
	m.transition(now, StateAttached, "link up")
	if m.adv != nil {
		if err := m.adv.Advertise(); err != nil {
			m.logger.Error("Failed to start mDNS advertisement", zap.Error(err))
		}
	}
}

func (m *Manager) withdraw() {
	if m.adv != nil {
		m.adv.Withdraw()
	}
}

func (m *Manager) transition(now time.Time, to State, reason string) {
	from := m.state
	m.state = to
	if m.sink != nil {
		m.sink.SetPattern(to.Pattern(), now)
	}
	logging.LogStateTransition(from.String(), to.String(), reason)

	t := Transition{From: from, To: to, Reason: reason, At: now}
	for _, fn := range m.onTransition {
		fn(t)
	}
}

// HardwareAddr is a convenience for callers that need the unit's MAC.
func (m *Manager) HardwareAddr() net.HardwareAddr {
	mac, _ := m.radio.HardwareAddr()
	return mac
}
