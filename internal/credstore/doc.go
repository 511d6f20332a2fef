// Package credstore persists the fixture's network credentials in a
// fixed-size non-volatile region.
//
// # Layout
//
// The record is versioned and length-prefixed:
//
//	offset 0   'L'
//	offset 1   'C'
//	offset 2   format version (1)
//	offset 3   len(ssid)        ssid bytes follow
//	...        len(passphrase)  passphrase bytes follow
//	...        zero padding to the end of the region
//
// Records written before the version tag existed (length-prefixed fields
// starting at offset 0) are still read and are rewritten in the current
// layout on first load.
//
// # Failure Semantics
//
// Load never fails. A region that is blank, corrupt (a length byte that
// runs past the region) or written by an unknown version loads as empty
// credentials, which puts the fixture into provisioning.
//
// Clear zero-fills the region and always restarts the device.
package credstore
