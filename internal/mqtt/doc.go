// Package mqtt bridges the fixture to an MQTT broker.
//
// The bridge forwards device events as JSON and accepts LED commands on
// a set topic. Topics are laid out under <prefix>/<id>:
//
//	<prefix>/<id>/availability   online / offline (retained, last will)
//	<prefix>/<id>/state          connectivity transitions (retained)
//	<prefix>/<id>/led            LED state (retained)
//	<prefix>/<id>/update         firmware update progress
//	<prefix>/<id>/button         button actions
//	<prefix>/<id>/led/set        LED commands, same body as POST /led
//
// Conn abstracts the broker connection; Dial returns one backed by the
// Eclipse Paho client.
package mqtt
