package credstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

type recordingRestarter struct {
	reasons []string
}

func (r *recordingRestarter) Restart(reason string) {
	r.reasons = append(r.reasons, reason)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		ssid       string
		passphrase string
	}{
		{"typical", "home", "secret123"},
		{"open network", "cafe", ""},
		{"single byte ssid", "x", "p"},
		{"max lengths", strings.Repeat("s", MaxSSIDLen), strings.Repeat("p", MaxPassphraseLen)},
		{"binary bytes", "net\x00\xff", "\x01\x02\x03"},
		{"utf8", "Café ☕", "pässwörd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := New(NewMemoryRegion(DefaultRegionSize), nil)

			if err := store.Save(tt.ssid, tt.passphrase); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got := store.Load()
			if got.SSID != tt.ssid || got.Passphrase != tt.passphrase {
				t.Errorf("Load() = %+v, want {%q %q}", got, tt.ssid, tt.passphrase)
			}
		})
	}
}

func TestSaveRejectsOutOfBounds(t *testing.T) {
	store := New(NewMemoryRegion(DefaultRegionSize), nil)

	if err := store.Save("", "pw"); !errors.Is(err, ErrInvalidSSID) {
		t.Errorf("Save(empty ssid) error = %v, want ErrInvalidSSID", err)
	}
	if err := store.Save(strings.Repeat("s", MaxSSIDLen+1), ""); !errors.Is(err, ErrInvalidSSID) {
		t.Errorf("Save(long ssid) error = %v, want ErrInvalidSSID", err)
	}
	if err := store.Save("home", strings.Repeat("p", MaxPassphraseLen+1)); !errors.Is(err, ErrInvalidPassphrase) {
		t.Errorf("Save(long passphrase) error = %v, want ErrInvalidPassphrase", err)
	}

	if got := store.Load(); !got.Empty() {
		t.Errorf("Load() after rejected saves = %+v, want empty", got)
	}
}

func TestSaveOverwritesLongerRecord(t *testing.T) {
	region := NewMemoryRegion(DefaultRegionSize)
	store := New(region, nil)

	if err := store.Save(strings.Repeat("a", 20), strings.Repeat("b", 40)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save("home", "pw"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw := region.Bytes()
	if tail := raw[EncodedLen(Credentials{SSID: "home", Passphrase: "pw"}):]; !bytes.Equal(tail, make([]byte, len(tail))) {
		t.Errorf("stale bytes left after shorter record: %x", tail)
	}
}

func TestLoadBlankRegion(t *testing.T) {
	store := New(NewMemoryRegion(DefaultRegionSize), nil)
	if got := store.Load(); !got.Empty() {
		t.Errorf("Load() on blank region = %+v, want empty", got)
	}
}

func TestLoadCorruptLengthByte(t *testing.T) {
	for _, length := range []byte{MaxSSIDLen + 1, 64, 127, 200, 255} {
		region := NewMemoryRegion(DefaultRegionSize)
		store := New(region, nil)
		if err := store.Save("home", "secret123"); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		// Overwrite the ssid length prefix.
		if _, err := region.WriteAt([]byte{length}, headerLen); err != nil {
			t.Fatalf("WriteAt() error = %v", err)
		}

		if got := store.Load(); !got.Empty() {
			t.Errorf("length %d: Load() = %+v, want empty", length, got)
		}
	}
}

func TestLoadLengthPastSmallRegion(t *testing.T) {
	// A 16-byte region cannot hold a 20-byte ssid even though 20 is within bounds.
	region := NewMemoryRegion(16)
	copy(region.buf, []byte{magic0, magic1, FormatVersion, 20, 'a', 'b'})

	store := New(region, nil)
	if got := store.Load(); !got.Empty() {
		t.Errorf("Load() = %+v, want empty", got)
	}
}

func TestLoadPassphraseLengthPastRegion(t *testing.T) {
	region := NewMemoryRegion(12)
	copy(region.buf, []byte{magic0, magic1, FormatVersion, 2, 'h', 'i', 60})

	store := New(region, nil)
	if got := store.Load(); !got.Empty() {
		t.Errorf("Load() = %+v, want empty", got)
	}
}

func TestLoadUnknownVersion(t *testing.T) {
	region := NewMemoryRegion(DefaultRegionSize)
	copy(region.buf, []byte{magic0, magic1, 9, 4, 'h', 'o', 'm', 'e', 0})

	store := New(region, nil)
	if got := store.Load(); !got.Empty() {
		t.Errorf("Load() = %+v, want empty for unknown version", got)
	}
}

func TestLoadMigratesLegacyRecord(t *testing.T) {
	region := NewMemoryRegion(DefaultRegionSize)
	copy(region.buf, []byte{4, 'h', 'o', 'm', 'e', 3, 'p', 'w', 'd'})

	store := New(region, nil)
	got := store.Load()
	if got.SSID != "home" || got.Passphrase != "pwd" {
		t.Fatalf("Load() = %+v, want legacy record", got)
	}

	raw := region.Bytes()
	if raw[0] != magic0 || raw[1] != magic1 || raw[2] != FormatVersion {
		t.Errorf("region header after migration = %x, want versioned record", raw[:3])
	}
	if again := store.Load(); again != got {
		t.Errorf("Load() after migration = %+v, want %+v", again, got)
	}
}

func TestClearZeroFillsAndRestarts(t *testing.T) {
	region := NewMemoryRegion(DefaultRegionSize)
	restarter := &recordingRestarter{}
	store := New(region, restarter)

	if err := store.Save("home", "secret123"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if !bytes.Equal(region.Bytes(), make([]byte, DefaultRegionSize)) {
		t.Error("Clear() did not zero-fill the whole region")
	}
	if len(restarter.reasons) != 1 {
		t.Fatalf("restarts = %d, want 1", len(restarter.reasons))
	}
	if got := store.Load(); !got.Empty() {
		t.Errorf("Load() after Clear() = %+v, want empty", got)
	}
}

type failingRegion struct{ *MemoryRegion }

func (failingRegion) WriteAt([]byte, int64) (int, error) {
	return 0, errors.New("flash write failed")
}

func TestClearRestartsEvenWhenWipeFails(t *testing.T) {
	restarter := &recordingRestarter{}
	store := New(failingRegion{NewMemoryRegion(DefaultRegionSize)}, restarter)

	if err := store.Clear(); err == nil {
		t.Error("Clear() error = nil, want wipe failure")
	}
	if len(restarter.reasons) != 1 {
		t.Errorf("restarts = %d, want 1", len(restarter.reasons))
	}
}

func TestFileRegionPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.bin")

	region, err := OpenFileRegion(path, DefaultRegionSize)
	if err != nil {
		t.Fatalf("OpenFileRegion() error = %v", err)
	}
	if err := New(region, nil).Save("home", "secret123"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := region.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenFileRegion(path, DefaultRegionSize)
	if err != nil {
		t.Fatalf("OpenFileRegion() error = %v", err)
	}
	defer reopened.Close()

	got := New(reopened, nil).Load()
	if got.SSID != "home" || got.Passphrase != "secret123" {
		t.Errorf("Load() after reopen = %+v", got)
	}
}

func TestEncodeRegionTooSmall(t *testing.T) {
	_, err := Encode(Credentials{SSID: "home", Passphrase: "secret123"}, 8)
	if !errors.Is(err, ErrRegionTooSmall) {
		t.Errorf("Encode() error = %v, want ErrRegionTooSmall", err)
	}
}
