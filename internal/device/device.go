package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/button"
	"github.com/muurk/lumen/internal/credstore"
	"github.com/muurk/lumen/internal/firmware"
	"github.com/muurk/lumen/internal/indicator"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/wifi"
)

// DefaultTickInterval is the owner loop period.
const DefaultTickInterval = 50 * time.Millisecond

// ErrStopped is returned by Do when the owner loop is not running.
var ErrStopped = errors.New("device loop stopped")

// ErrNoLEDChange is returned by SetLED for a change with no fields set.
var ErrNoLEDChange = errors.New("no LED fields given")

// Config holds the owner loop settings.
type Config struct {
	Product       string
	Version       string
	TickInterval  time.Duration
	AttachTimeout time.Duration
	HoldThreshold time.Duration
}

// Parts are the hardware-facing pieces the device owns.
type Parts struct {
	Radio      wifi.Radio
	Store      *credstore.Store
	Strip      indicator.Strip
	Pin        button.Pin
	Advertiser wifi.Advertiser
}

// Info identifies the fixture.
type Info struct {
	MAC        net.HardwareAddr
	MDNSName   string
	DeviceName string
	Version    string
	State      wifi.State
	SSID       string
}

// LEDChange is a partial LED update. A false Power turns the strip off and
// ignores the other fields.
type LEDChange struct {
	Power      *bool
	Brightness *uint8
	Color      *indicator.RGBW
}

func (c LEDChange) empty() bool {
	return c.Power == nil && c.Brightness == nil && c.Color == nil
}

type command struct {
	fn    func(now time.Time) error
	reply chan error
}

// Device is the single owner of connectivity, credential and indicator
// state. Everything that mutates them runs on the goroutine in Run.
type Device struct {
	cfg    Config
	radio  wifi.Radio
	store  *credstore.Store
	ind    *indicator.Indicator
	btn    *button.Monitor
	pin    button.Pin
	mgr    *wifi.Manager
	bus    *Bus
	mac    net.HardwareAddr
	logger *zap.Logger

	cmds    chan command
	done    chan struct{}
	state   atomic.Int32
	pinFail bool
	indFail bool
}

// New wires a device from its parts. Nothing runs until Run.
func New(parts Parts, cfg Config) (*Device, error) {
	if parts.Radio == nil || parts.Store == nil || parts.Strip == nil {
		return nil, errors.New("device needs a radio, a credential store and a strip")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Product == "" {
		cfg.Product = "Lumen"
	}
	pin := parts.Pin
	if pin == nil {
		pin = button.NopPin{}
	}

	d := &Device{
		cfg:    cfg,
		radio:  parts.Radio,
		store:  parts.Store,
		ind:    indicator.New(parts.Strip),
		btn:    button.NewMonitor(cfg.HoldThreshold),
		pin:    pin,
		bus:    NewBus(),
		logger: logging.Named("device"),
		cmds:   make(chan command, 16),
		done:   make(chan struct{}),
	}

	mgr, err := wifi.NewManager(parts.Radio, parts.Store, parts.Advertiser, d.ind, wifi.Config{
		Product:       cfg.Product,
		AttachTimeout: cfg.AttachTimeout,
	})
	if err != nil {
		return nil, err
	}
	mgr.OnTransition(d.onTransition)
	d.mgr = mgr
	d.mac = mgr.HardwareAddr()

	return d, nil
}

// Events returns the device event bus.
func (d *Device) Events() *Bus { return d.bus }

// Run starts connectivity and drives the owner loop until ctx ends.
func (d *Device) Run(ctx context.Context) error {
	defer close(d.done)

	d.start(time.Now())
	d.logger.Info("Device loop started",
		zap.String("device", d.mgr.APSSID()),
		zap.Duration("tick", d.cfg.TickInterval),
	)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Device loop stopped")
			return nil
		case now := <-ticker.C:
			d.step(now)
		}
	}
}

func (d *Device) start(now time.Time) {
	d.mgr.Start(now)
	d.renderIndicator(now)
}

// step runs one loop iteration: button, one command, connectivity,
// indicator.
func (d *Device) step(now time.Time) {
	d.pollButton(now)

	select {
	case c := <-d.cmds:
		c.reply <- c.fn(now)
	default:
	}

	d.mgr.Tick(now)
	d.renderIndicator(now)
}

func (d *Device) pollButton(now time.Time) {
	pressed, err := d.pin.Pressed()
	if err != nil {
		if !d.pinFail {
			d.logger.Warn("Failed to read button", zap.Error(err))
			d.pinFail = true
		}
		pressed = false
	} else {
		d.pinFail = false
	}

	if d.btn.Poll(now, pressed) != button.ActionErase {
		return
	}
	held := d.btn.Held(now)

	d.logger.Warn("Button held, erasing credentials", zap.Duration("held", held))
	d.bus.Publish(Event{Type: EventButton, Time: now, Data: ButtonEvent{
		Action: button.ActionErase.String(),
		HeldMS: held.Milliseconds(),
	}})
	// Clear restarts the fixture even when the wipe fails.
	_ = d.store.Clear()
}

func (d *Device) renderIndicator(now time.Time) {
	if err := d.ind.Tick(now); err != nil {
		if !d.indFail {
			d.logger.Warn("Failed to render indicator", zap.Error(err))
			d.indFail = true
		}
		return
	}
	d.indFail = false
}

func (d *Device) onTransition(t wifi.Transition) {
	d.state.Store(int32(t.To))
	d.bus.Publish(Event{Type: EventState, Time: t.At, Data: StateChange{
		From:   t.From.String(),
		To:     t.To.String(),
		Reason: t.Reason,
		SSID:   d.mgr.SSID(),
	}})
}

// Do runs fn on the owner loop and returns its error. It waits for a free
// queue slot and for the result, bounded by ctx.
func (d *Device) Do(ctx context.Context, fn func(now time.Time) error) error {
	c := command{fn: fn, reply: make(chan error, 1)}

	select {
	case d.cmds <- c:
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-c.reply:
		return err
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the connectivity state last published by the loop. It is
// safe to call from any goroutine.
func (d *Device) State() wifi.State {
	return wifi.State(d.state.Load())
}

// Attached reports whether the fixture is on a network.
func (d *Device) Attached() bool {
	return d.State() == wifi.StateAttached
}

// Info returns the fixture identity and connectivity state.
func (d *Device) Info(ctx context.Context) (Info, error) {
	var info Info
	err := d.Do(ctx, func(time.Time) error {
		info = Info{
			MAC:        d.mac,
			MDNSName:   wifi.HostName(d.cfg.Product, d.mac) + ".local",
			DeviceName: d.mgr.APSSID(),
			Version:    d.cfg.Version,
			State:      d.mgr.State(),
			SSID:       d.mgr.SSID(),
		}
		return nil
	})
	return info, err
}

// LED returns the stored user LED state.
func (d *Device) LED(ctx context.Context) (indicator.State, error) {
	var st indicator.State
	err := d.Do(ctx, func(time.Time) error {
		st = d.ind.State()
		return nil
	})
	return st, err
}

// SetLED applies a partial LED update and returns the resulting state.
func (d *Device) SetLED(ctx context.Context, change LEDChange) (indicator.State, error) {
	if change.empty() {
		return indicator.State{}, ErrNoLEDChange
	}
	if change.Brightness != nil && *change.Brightness > 100 {
		return indicator.State{}, indicator.ErrBrightnessRange
	}

	var st indicator.State
	err := d.Do(ctx, func(now time.Time) error {
		if change.Power != nil && !*change.Power {
			d.ind.TurnOff()
		} else {
			cur := d.ind.State()
			power, color, pct := cur.Power, cur.Color, cur.BrightnessPercent()
			if change.Power != nil {
				power = *change.Power
			}
			if change.Color != nil {
				color = *change.Color
			}
			if change.Brightness != nil {
				pct = *change.Brightness
			}
			if err := d.ind.Set(power, color, pct); err != nil {
				return err
			}
		}
		st = d.ind.State()
		d.bus.Publish(Event{Type: EventLED, Time: now, Data: d.ledStatus(st)})
		return nil
	})
	return st, err
}

func (d *Device) ledStatus(st indicator.State) LEDStatus {
	return LEDStatus{
		IsOn:       st.Power,
		Brightness: st.BrightnessPercent(),
		R:          st.Color.R,
		G:          st.Color.G,
		B:          st.Color.B,
		W:          st.Color.W,
		Pattern:    d.ind.Pattern().String(),
	}
}

// Connect stores new credentials and starts joining them. It returns as
// soon as the attempt has begun.
func (d *Device) Connect(ctx context.Context, ssid, passphrase string) error {
	if err := (credstore.Credentials{SSID: ssid, Passphrase: passphrase}).Validate(); err != nil {
		return err
	}
	return d.Do(ctx, func(now time.Time) error {
		return d.mgr.SubmitCredentials(now, ssid, passphrase)
	})
}

// Scan lists nearby networks. It queries the radio directly and does not
// touch owned state.
func (d *Device) Scan(ctx context.Context) ([]wifi.Network, error) {
	networks, err := d.radio.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	return networks, nil
}

// PublishUpdate forwards a firmware session change to subscribers.
func (d *Device) PublishUpdate(s firmware.Status) {
	d.bus.Publish(Event{Type: EventUpdate, Time: time.Now(), Data: s})
}
