//go:build !linux

package button

import "errors"

// GPIOPin is unavailable off Linux.
type GPIOPin struct{}

// OpenGPIOPin always fails on platforms without the GPIO character device.
func OpenGPIOPin(chip string, offset int) (*GPIOPin, error) {
	return nil, errors.New("gpio buttons require linux")
}

func (p *GPIOPin) Pressed() (bool, error) { return false, nil }

func (p *GPIOPin) Close() error { return nil }
