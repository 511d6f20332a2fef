// Package firmware installs new fixture images fetched over HTTP.
//
// An update is a single streaming download: the response must declare its
// length, the inactive slot is reserved for exactly that many bytes before
// anything is written, and the image becomes the boot selection only when
// every declared byte arrived and the slot was committed. The fixture
// restarts after a successful commit and never otherwise.
//
// SlotPartition stores two images side by side in a directory together
// with a boot file naming the selected one:
//
//	/var/lib/lumen/firmware/
//	├── boot          "a" or "b"
//	├── slot-a.bin
//	└── slot-b.bin
//
// The service launcher reads the boot file and starts the named image.
package firmware
