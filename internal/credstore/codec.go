package credstore

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is returned by Decode when a length prefix runs past the
	// region or past the field's maximum length.
	ErrCorrupt = errors.New("corrupt credential record")
	// ErrUnsupportedVersion is returned by Decode for records written by a
	// newer layout.
	ErrUnsupportedVersion = errors.New("unsupported credential record version")
)

// EncodedLen returns the number of bytes a record for creds occupies.
func EncodedLen(creds Credentials) int {
	return headerLen + 1 + len(creds.SSID) + 1 + len(creds.Passphrase)
}

// Encode lays out creds in a zero-padded buffer of exactly size bytes:
//
//	'L' 'C' version len(ssid) ssid... len(passphrase) passphrase... 0...
func Encode(creds Credentials, size int) ([]byte, error) {
	if need := EncodedLen(creds); need > size {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrRegionTooSmall, need, size)
	}

	buf := make([]byte, size)
	buf[0], buf[1], buf[2] = magic0, magic1, FormatVersion

	off := headerLen
	buf[off] = byte(len(creds.SSID))
	off++
	off += copy(buf[off:], creds.SSID)
	buf[off] = byte(len(creds.Passphrase))
	off++
	copy(buf[off:], creds.Passphrase)

	return buf, nil
}

// Decode parses a region image. legacy is true when the record predates
// the versioned layout (bare length-prefixed fields at offset zero).
// A blank region decodes to empty credentials without error.
//
// The magic byte 'L' (76) can never be a valid legacy SSID length, so the
// two layouts cannot be confused.
func Decode(buf []byte) (creds Credentials, legacy bool, err error) {
	if len(buf) == 0 {
		return Credentials{}, false, nil
	}

	off := 0
	if len(buf) >= 2 && buf[0] == magic0 && buf[1] == magic1 {
		if len(buf) < headerLen {
			return Credentials{}, false, fmt.Errorf("%w: truncated header", ErrCorrupt)
		}
		if buf[2] != FormatVersion {
			return Credentials{}, false, fmt.Errorf("%w: %d", ErrUnsupportedVersion, buf[2])
		}
		off = headerLen
	} else {
		legacy = true
	}

	ssid, off, err := readField(buf, off, MaxSSIDLen)
	if err != nil {
		return Credentials{}, legacy, fmt.Errorf("ssid: %w", err)
	}
	if ssid == "" {
		return Credentials{}, legacy, nil
	}

	pass, _, err := readField(buf, off, MaxPassphraseLen)
	if err != nil {
		return Credentials{}, legacy, fmt.Errorf("passphrase: %w", err)
	}

	return Credentials{SSID: ssid, Passphrase: pass}, legacy, nil
}

func readField(buf []byte, off, limit int) (string, int, error) {
	if off >= len(buf) {
		return "", off, fmt.Errorf("%w: length byte at %d past end of region", ErrCorrupt, off)
	}
	n := int(buf[off])
	off++
	if n > limit {
		return "", off, fmt.Errorf("%w: length %d exceeds maximum %d", ErrCorrupt, n, limit)
	}
	if off+n > len(buf) {
		return "", off, fmt.Errorf("%w: length %d at %d exceeds region of %d bytes", ErrCorrupt, n, off-1, len(buf))
	}
	return string(buf[off : off+n]), off + n, nil
}
