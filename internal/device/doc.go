// Package device runs the fixture's owner loop.
//
// One goroutine owns the connectivity manager, the credential store, the
// indicator and the button monitor. Each tick it samples the button, runs
// at most one queued command, advances connectivity with a non-blocking
// poll and renders the indicator. HTTP handlers and the MQTT bridge reach
// owned state only through Do and the typed helpers built on it.
//
// State changes, LED changes, button actions and firmware progress are
// published on an event Bus.
package device
