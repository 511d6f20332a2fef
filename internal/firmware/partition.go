package firmware

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNoSpace is returned by Begin when the image is larger than a slot.
	ErrNoSpace = errors.New("image larger than update slot")
	// ErrImageIncomplete is returned by Finalize when fewer bytes than
	// reserved were written. The reservation is discarded.
	ErrImageIncomplete = errors.New("image incomplete")
	// ErrOverflow is returned by Write past the reserved size.
	ErrOverflow = errors.New("write past reserved size")
)

// Partition is the update storage.
type Partition interface {
	// Begin reserves the inactive slot for an image of size bytes.
	// Nothing is written when the reservation fails.
	Begin(size int64) (Reservation, error)
}

// Reservation receives one image.
type Reservation interface {
	io.Writer
	// Written returns the number of bytes accepted so far.
	Written() int64
	// Finalize commits the image when exactly the reserved size was
	// written, making it the boot selection. Otherwise the reservation is
	// discarded and an error is returned. Finalize releases the
	// reservation in both cases.
	Finalize() error
	// Abort discards the reservation.
	Abort() error
}

// SlotPartition keeps two image slots in a directory and a boot file
// naming the selected one. An external launcher starts the selected image.
type SlotPartition struct {
	dir      string
	capacity int64

	mu     sync.Mutex
	active bool
}

const bootFile = "boot"

var slotNames = [2]string{"a", "b"}

// NewSlotPartition creates the slot directory if needed. capacity is the
// size of each slot in bytes.
func NewSlotPartition(dir string, capacity int64) (*SlotPartition, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid slot capacity %d", capacity)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create slot directory: %w", err)
	}
	return &SlotPartition{dir: dir, capacity: capacity}, nil
}

// Capacity returns the size of one slot.
func (p *SlotPartition) Capacity() int64 { return p.capacity }

// Selected returns the name of the slot the next boot will use.
func (p *SlotPartition) Selected() string {
	data, err := os.ReadFile(filepath.Join(p.dir, bootFile))
	if err != nil {
		return slotNames[0]
	}
	name := strings.TrimSpace(string(data))
	for _, s := range slotNames {
		if s == name {
			return s
		}
	}
	return slotNames[0]
}

// SlotPath returns the image path of slot name.
func (p *SlotPartition) SlotPath(name string) string {
	return filepath.Join(p.dir, "slot-"+name+".bin")
}

func (p *SlotPartition) inactive() string {
	if p.Selected() == slotNames[0] {
		return slotNames[1]
	}
	return slotNames[0]
}

func (p *SlotPartition) Begin(size int64) (Reservation, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid image size %d", size)
	}
	if size > p.capacity {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrNoSpace, size, p.capacity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nil, errors.New("update slot already reserved")
	}

	slot := p.inactive()
	f, err := os.OpenFile(p.SlotPath(slot), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to open slot %s: %w", slot, err)
	}
	p.active = true

	return &slotReservation{p: p, slot: slot, f: f, size: size}, nil
}

func (p *SlotPartition) release() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

type slotReservation struct {
	p       *SlotPartition
	slot    string
	f       *os.File
	size    int64
	written int64
	done    bool
}

func (r *slotReservation) Write(b []byte) (int, error) {
	if r.done {
		return 0, os.ErrClosed
	}
	if room := r.size - r.written; int64(len(b)) > room {
		n, err := r.f.Write(b[:room])
		r.written += int64(n)
		if err != nil {
			return n, err
		}
		return n, ErrOverflow
	}
	n, err := r.f.Write(b)
	r.written += int64(n)
	return n, err
}

func (r *slotReservation) Written() int64 { return r.written }

func (r *slotReservation) Finalize() error {
	if r.done {
		return os.ErrClosed
	}
	defer r.p.release()
	r.done = true

	if r.written != r.size {
		_ = r.f.Close()
		_ = os.Remove(r.p.SlotPath(r.slot))
		return fmt.Errorf("%w: %d of %d bytes", ErrImageIncomplete, r.written, r.size)
	}

	if err := r.f.Sync(); err != nil {
		_ = r.f.Close()
		return fmt.Errorf("failed to sync slot %s: %w", r.slot, err)
	}
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("failed to close slot %s: %w", r.slot, err)
	}

	// Boot selection flips only after the image is durable.
	return writeFileAtomic(filepath.Join(r.p.dir, bootFile), []byte(r.slot+"\n"))
}

func (r *slotReservation) Abort() error {
	if r.done {
		return nil
	}
	defer r.p.release()
	r.done = true
	_ = r.f.Close()
	return os.Remove(r.p.SlotPath(r.slot))
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to write boot selection: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write boot selection: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync boot selection: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close boot selection: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit boot selection: %w", err)
	}
	return nil
}
