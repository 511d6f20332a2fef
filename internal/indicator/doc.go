// Package indicator drives the fixture's addressable RGBW strip.
//
// The indicator holds a user target (power, color, brightness) and a
// connectivity blink pattern. While the fixture is not attached to a
// network the pattern owns the strip:
//
//   - provisioning: amber / green alternation
//   - attaching or recovering: blue / off alternation
//
// each color held for BlinkHalfPeriod. User commands received meanwhile
// are stored and reported but not drawn. On attach the strip shows solid
// green until the next user command.
//
// Brightness is 0-100 at the API boundary and 0-255 on the strip.
package indicator
