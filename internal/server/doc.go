// Package server implements the fixture's HTTP control surface.
//
// # Routes
//
//	GET  /device_info      identity and connectivity state
//	GET  /scan             nearby networks
//	POST /connect          store credentials and start joining
//	GET  /led              user LED state
//	POST /led              partial LED update
//	POST /update_firmware  start a firmware update, returns at once
//	GET  /update_status    current or last update session
//	GET  /events           WebSocket stream of device events
//	GET  /metrics          Prometheus exposition
//
// Malformed requests get 400 with {"status":"error","message":...} and
// change nothing. Handlers never touch device state directly; they go
// through the owner loop with a bounded wait and answer 503 when it does
// not respond in time.
//
// State-changing routes share one token bucket (golang.org/x/time/rate)
// and answer 429 when it is empty.
package server
