package indicator

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/logging"
)

// BlinkHalfPeriod is how long each color of a blink pattern is held.
const BlinkHalfPeriod = 500 * time.Millisecond

// blinkBrightness is the native brightness used for connectivity patterns.
const blinkBrightness = 128

// ErrBrightnessRange is returned for brightness percentages above 100.
var ErrBrightnessRange = errors.New("brightness must be 0-100")

// RGBW is one element color.
type RGBW struct {
	R, G, B, W uint8
}

func (c RGBW) String() string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.W)
}

// Scale returns c dimmed by a native 0-255 brightness.
func (c RGBW) Scale(brightness uint8) RGBW {
	s := func(v uint8) uint8 { return uint8(uint16(v) * uint16(brightness) / 255) }
	return RGBW{R: s(c.R), G: s(c.G), B: s(c.B), W: s(c.W)}
}

// Indicator colors.
var (
	Off   = RGBW{}
	Green = RGBW{G: 255}
	Amber = RGBW{R: 255, G: 120}
	Blue  = RGBW{B: 255}
)

// Pattern is a connectivity blink pattern.
type Pattern int

const (
	PatternNone Pattern = iota
	PatternProvisioning
	PatternAttaching
)

func (p Pattern) String() string {
	switch p {
	case PatternNone:
		return "none"
	case PatternProvisioning:
		return "provisioning-pulse"
	case PatternAttaching:
		return "attaching-pulse"
	default:
		return fmt.Sprintf("Pattern(%d)", int(p))
	}
}

func (p Pattern) colors() (RGBW, RGBW) {
	if p == PatternProvisioning {
		return Amber, Green
	}
	return Blue, Off
}

// State is the user-controlled indicator target.
type State struct {
	Power bool
	Color RGBW
	// Brightness is on the native 0-255 scale.
	Brightness uint8
}

// BrightnessPercent returns the brightness on the 0-100 scale.
func (s State) BrightnessPercent() uint8 {
	return NativeToPercent(s.Brightness)
}

// DefaultState is the power-on state: off, black, full brightness.
func DefaultState() State {
	return State{Power: false, Color: Off, Brightness: 255}
}

// PercentToNative maps 0-100 onto 0-255 with rounding.
func PercentToNative(p uint8) uint8 {
	return uint8((uint32(p)*255 + 50) / 100)
}

// NativeToPercent maps 0-255 onto 0-100 with rounding.
func NativeToPercent(b uint8) uint8 {
	return uint8((uint32(b)*100 + 127) / 255)
}

// Indicator drives a strip from user state and the connectivity pattern.
//
// While a pattern is active user commands are stored but not drawn. When
// the pattern ends, the strip shows solid green until the next user
// command, then the user state.
//
// Indicator is not safe for concurrent use; the device loop owns it.
type Indicator struct {
	strip  Strip
	logger *zap.Logger

	state      State
	pattern    Pattern
	confirming bool
	epoch      time.Time

	pixels []RGBW
	last   RGBW
	drawn  bool
}

// New returns an Indicator in the default state with no pattern.
func New(strip Strip) *Indicator {
	return &Indicator{
		strip:  strip,
		logger: logging.Named("indicator"),
		state:  DefaultState(),
		pixels: make([]RGBW, strip.Len()),
	}
}

// Set stores a new user target. brightnessPercent is 0-100. Setting power
// false blanks the strip while keeping color and brightness.
func (ind *Indicator) Set(power bool, color RGBW, brightnessPercent uint8) error {
	if brightnessPercent > 100 {
		return ErrBrightnessRange
	}
	ind.state = State{Power: power, Color: color, Brightness: PercentToNative(brightnessPercent)}
	ind.confirming = false
	ind.logger.Debug("User state set",
		zap.Bool("power", power),
		zap.String("color", color.String()),
		zap.Uint8("brightness_pct", brightnessPercent),
		zap.Bool("deferred", ind.pattern != PatternNone),
	)
	return nil
}

// TurnOff powers the indicator off, retaining color and brightness.
func (ind *Indicator) TurnOff() {
	ind.state.Power = false
	ind.confirming = false
}

// State returns the stored user target.
func (ind *Indicator) State() State {
	return ind.state
}

// Pattern returns the active connectivity pattern.
func (ind *Indicator) Pattern() Pattern {
	return ind.pattern
}

// SetPattern selects the connectivity pattern. Leaving a blinking
// pattern for PatternNone arms the one-time green confirmation.
func (ind *Indicator) SetPattern(p Pattern, now time.Time) {
	if p == ind.pattern {
		return
	}
	if p == PatternNone && ind.pattern != PatternNone {
		ind.confirming = true
	}
	ind.pattern = p
	ind.epoch = now
}

// Tick renders the frame for now. It writes to the strip only when the
// frame changes.
func (ind *Indicator) Tick(now time.Time) error {
	color := ind.frame(now)
	if ind.drawn && color == ind.last {
		return nil
	}

	for i := range ind.pixels {
		ind.pixels[i] = color
	}
	if err := ind.strip.Show(ind.pixels); err != nil {
		return fmt.Errorf("failed to render indicator: %w", err)
	}
	ind.last = color
	ind.drawn = true
	return nil
}

// Current returns the color of the last rendered frame.
func (ind *Indicator) Current() RGBW {
	return ind.last
}

func (ind *Indicator) frame(now time.Time) RGBW {
	switch {
	case ind.pattern != PatternNone:
		a, b := ind.pattern.colors()
		phase := now.Sub(ind.epoch) / BlinkHalfPeriod
		if phase%2 == 0 {
			return a.Scale(blinkBrightness)
		}
		return b.Scale(blinkBrightness)
	case ind.confirming:
		return Green
	case !ind.state.Power:
		return Off
	default:
		return ind.state.Color.Scale(ind.state.Brightness)
	}
}
