// Package button detects the factory-reset long press on the fixture's
// momentary button.
package button

import (
	"time"
)

// DefaultHoldThreshold is how long the button must be held to erase.
const DefaultHoldThreshold = 3 * time.Second

// Action is the outcome of one poll.
type Action int

const (
	ActionNone Action = iota
	ActionErase
)

func (a Action) String() string {
	if a == ActionErase {
		return "erase"
	}
	return "none"
}

// Pin reads the button level. Pressed reports the logical state, with any
// active-low inversion already applied.
type Pin interface {
	Pressed() (bool, error)
}

// Monitor is a long-press detector. A press held continuously for the
// threshold emits ActionErase once; the latch holds until a release.
type Monitor struct {
	threshold time.Duration

	pressedSince time.Time
	pressing     bool
	fired        bool
}

// NewMonitor returns a Monitor with the given hold threshold.
func NewMonitor(threshold time.Duration) *Monitor {
	if threshold <= 0 {
		threshold = DefaultHoldThreshold
	}
	return &Monitor{threshold: threshold}
}

// Poll feeds one sample taken at now.
func (m *Monitor) Poll(now time.Time, pressed bool) Action {
	if !pressed {
		m.pressing = false
		m.fired = false
		return ActionNone
	}

	if !m.pressing {
		m.pressing = true
		m.pressedSince = now
	}

	if !m.fired && now.Sub(m.pressedSince) >= m.threshold {
		m.fired = true
		return ActionErase
	}
	return ActionNone
}

// Held returns how long the current press has lasted.
func (m *Monitor) Held(now time.Time) time.Duration {
	if !m.pressing {
		return 0
	}
	return now.Sub(m.pressedSince)
}

// NopPin is a button that is never pressed.
type NopPin struct{}

func (NopPin) Pressed() (bool, error) { return false, nil }
