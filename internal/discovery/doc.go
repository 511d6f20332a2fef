// Package discovery finds and announces Lumen fixtures over mDNS.
//
// An attached fixture registers an "_http._tcp" service whose instance
// name is its access point name (e.g. "Lumen_12ABCD") on the host
// "lumen-12abcd.local.". The TXT record carries:
//   - product: product name
//   - fw: firmware version
//   - mac: hardware address
//   - path: control API root, always "/"
//
// Advertiser publishes that service from the fixture. Scanner browses for
// it from a workstation and returns one Device per fixture.
//
// # Network Requirements
//
//   - multicast on the local segment
//   - UDP port 5353 open in the firewall
package discovery
