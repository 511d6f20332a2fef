package device

import (
	"errors"
	"fmt"

	"github.com/muurk/lumen/internal/api"
	"github.com/muurk/lumen/internal/indicator"
)

// ParseLEDRequest turns a control surface LED body into an LEDChange.
// "off" wins over every other field in the same request.
func ParseLEDRequest(req api.LEDRequest) (LEDChange, error) {
	var change LEDChange

	if req.State != nil {
		switch *req.State {
		case api.StateOn:
			on := true
			change.Power = &on
		case api.StateOff:
			off := false
			return LEDChange{Power: &off}, nil
		default:
			return change, fmt.Errorf("state must be %q or %q", api.StateOn, api.StateOff)
		}
	}
	if req.Brightness != nil {
		if *req.Brightness < 0 || *req.Brightness > 100 {
			return change, errors.New("brightness must be between 0 and 100")
		}
		pct := uint8(*req.Brightness)
		change.Brightness = &pct
	}
	if req.Color != nil {
		c := indicator.RGBW{R: req.Color.R, G: req.Color.G, B: req.Color.B, W: req.Color.W}
		change.Color = &c
	}
	if change.empty() {
		return change, errors.New("request sets none of state, brightness, color")
	}
	return change, nil
}
