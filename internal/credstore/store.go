package credstore

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/logging"
)

const (
	// MaxSSIDLen is the longest SSID accepted, in bytes.
	MaxSSIDLen = 31
	// MaxPassphraseLen is the longest passphrase accepted, in bytes.
	MaxPassphraseLen = 63

	// FormatVersion is the layout version written by Save.
	FormatVersion = 1

	magic0 = 'L'
	magic1 = 'C'

	// magic, version
	headerLen = 3
)

var (
	// ErrInvalidSSID is returned when an SSID is empty or too long.
	ErrInvalidSSID = errors.New("ssid must be 1-31 bytes")
	// ErrInvalidPassphrase is returned when a passphrase is too long.
	ErrInvalidPassphrase = errors.New("passphrase must be at most 63 bytes")
	// ErrRegionTooSmall is returned when the region cannot hold an encoded record.
	ErrRegionTooSmall = errors.New("credential region too small")
)

// Credentials is the network key material stored in the region.
// An empty SSID means no credentials are stored.
type Credentials struct {
	SSID       string
	Passphrase string
}

// Empty reports whether no credentials are present.
func (c Credentials) Empty() bool {
	return c.SSID == ""
}

// Validate checks the length bounds of both fields.
func (c Credentials) Validate() error {
	if len(c.SSID) == 0 || len(c.SSID) > MaxSSIDLen {
		return ErrInvalidSSID
	}
	if len(c.Passphrase) > MaxPassphraseLen {
		return ErrInvalidPassphrase
	}
	return nil
}

// Restarter reboots the device. Restart is not expected to return in
// production; test doubles record the call and return.
type Restarter interface {
	Restart(reason string)
}

// Store persists credentials in a Region.
type Store struct {
	region  Region
	restart Restarter
	logger  *zap.Logger
}

// New creates a Store over region. restart is invoked by Clear.
func New(region Region, restart Restarter) *Store {
	return &Store{
		region:  region,
		restart: restart,
		logger:  logging.Named("credstore"),
	}
}

// Save encodes and writes the credentials, replacing whatever was stored.
func (s *Store) Save(ssid, passphrase string) error {
	creds := Credentials{SSID: ssid, Passphrase: passphrase}
	if err := creds.Validate(); err != nil {
		return err
	}

	buf, err := Encode(creds, s.region.Size())
	if err != nil {
		return err
	}
	if _, err := s.region.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("failed to write credential region: %w", err)
	}
	if err := s.region.Sync(); err != nil {
		return fmt.Errorf("failed to sync credential region: %w", err)
	}

	s.logger.Info("Credentials saved",
		zap.String("ssid", ssid),
		zap.Int("passphrase_len", len(passphrase)),
	)
	return nil
}

// Load returns the stored credentials. It never fails: unreadable,
// unknown or corrupt contents load as empty credentials.
func (s *Store) Load() Credentials {
	buf := make([]byte, s.region.Size())
	n, err := s.region.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Error("Failed to read credential region", zap.Error(err))
		return Credentials{}
	}
	buf = buf[:n]

	creds, legacy, err := Decode(buf)
	if err != nil {
		s.logger.Warn("Credential region is corrupt, treating as empty", zap.Error(err))
		logging.LogRawBytes("credential region", buf)
		return Credentials{}
	}

	if legacy && !creds.Empty() {
		s.logger.Info("Migrating unversioned credential record", zap.Int("version", FormatVersion))
		if err := s.Save(creds.SSID, creds.Passphrase); err != nil {
			s.logger.Warn("Credential migration failed", zap.Error(err))
		}
	}
	return creds
}

// Clear zero-fills the whole region and restarts the device. The restart
// happens even when the wipe fails; the wipe error is returned for logging.
func (s *Store) Clear() error {
	err := s.wipe()
	if err != nil {
		s.logger.Error("Failed to erase credentials", zap.Error(err))
	} else {
		s.logger.Warn("Credentials erased")
	}

	if s.restart != nil {
		s.restart.Restart("credentials erased")
	}
	return err
}

func (s *Store) wipe() error {
	zero := make([]byte, s.region.Size())
	if _, err := s.region.WriteAt(zero, 0); err != nil {
		return fmt.Errorf("failed to zero credential region: %w", err)
	}
	if err := s.region.Sync(); err != nil {
		return fmt.Errorf("failed to sync credential region: %w", err)
	}
	return nil
}
