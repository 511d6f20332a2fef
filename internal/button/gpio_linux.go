//go:build linux

package button

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOPin is a button on a GPIO character-device line, wired active low
// with the internal pull-up enabled.
type GPIOPin struct {
	line *gpiocdev.Line
}

// OpenGPIOPin requests offset on chip (for example "gpiochip0") as an input.
func OpenGPIOPin(chip string, offset int) (*GPIOPin, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.AsActiveLow,
		gpiocdev.WithConsumer("lumen-button"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to request button line %s:%d: %w", chip, offset, err)
	}
	return &GPIOPin{line: line}, nil
}

// Pressed reports the logical level; the line is active low so a pressed
// button reads 1.
func (p *GPIOPin) Pressed() (bool, error) {
	v, err := p.line.Value()
	if err != nil {
		return false, fmt.Errorf("failed to read button line: %w", err)
	}
	return v == 1, nil
}

// Close releases the line.
func (p *GPIOPin) Close() error {
	return p.line.Close()
}
