package credstore

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultRegionSize is the size of the reserved credential region in bytes.
// It fits the header plus the largest SSID and passphrase.
const DefaultRegionSize = 128

// Region is a fixed-size block of non-volatile storage.
type Region interface {
	// Size returns the capacity of the region in bytes.
	Size() int
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	// Sync commits written bytes to the underlying medium.
	Sync() error
}

// FileRegion emulates a flash sector with a fixed-size file.
// The file is grown to the region size on open; extra bytes past the
// region are never read or written.
type FileRegion struct {
	mu   sync.Mutex
	f    *os.File
	size int
}

// OpenFileRegion opens (or creates) the region file at path.
func OpenFileRegion(path string, size int) (*FileRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential region: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat credential region: %w", err)
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to size credential region: %w", err)
		}
	}

	return &FileRegion{f: f, size: size}, nil
}

func (r *FileRegion) Size() int { return r.size }

func (r *FileRegion) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if off < 0 || off >= int64(r.size) {
		return 0, io.EOF
	}
	if avail := int64(r.size) - off; int64(len(p)) > avail {
		p = p[:avail]
	}
	return r.f.ReadAt(p, off)
}

func (r *FileRegion) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if off < 0 || off+int64(len(p)) > int64(r.size) {
		return 0, fmt.Errorf("write of %d bytes at %d exceeds region size %d", len(p), off, r.size)
	}
	return r.f.WriteAt(p, off)
}

func (r *FileRegion) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Sync()
}

// Close releases the region file.
func (r *FileRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}

// MemoryRegion is a volatile Region backed by a byte slice.
type MemoryRegion struct {
	mu  sync.Mutex
	buf []byte
}

// NewMemoryRegion returns a zeroed in-memory region.
func NewMemoryRegion(size int) *MemoryRegion {
	return &MemoryRegion{buf: make([]byte, size)}
}

func (r *MemoryRegion) Size() int { return len(r.buf) }

func (r *MemoryRegion) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if off < 0 || off >= int64(len(r.buf)) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *MemoryRegion) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if off < 0 || off+int64(len(p)) > int64(len(r.buf)) {
		return 0, fmt.Errorf("write of %d bytes at %d exceeds region size %d", len(p), off, len(r.buf))
	}
	return copy(r.buf[off:], p), nil
}

func (r *MemoryRegion) Sync() error { return nil }

// Bytes returns a copy of the region contents.
func (r *MemoryRegion) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.buf...)
}
