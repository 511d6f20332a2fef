// Package wifi owns the fixture's connectivity lifecycle.
//
// # States
//
//	Provisioning --credentials submitted--> Attaching
//	Attaching    --link up----------------> Attached
//	Attaching    --timeout----------------> Provisioning
//	Attached     --link lost--------------> Recovering
//	Recovering   --link up----------------> Attached
//	Recovering   --timeout----------------> Provisioning
//
// Provisioning runs an open access point named "<product>_<MAC suffix>".
// Attaching and Recovering share one bounded timeout. Stored credentials
// are never discarded by a failed attempt.
//
// The Manager never blocks: Radio.Connect only begins an association and
// Tick polls Radio.Status once per call. The device loop calls Tick every
// iteration so button handling and control requests stay live during an
// attempt.
//
// # Radios
//
// NMRadio drives NetworkManager through nmcli. SimRadio is an in-process
// radio used for development without wireless hardware and in tests.
package wifi
