package indicator

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/logging"
)

// Strip is a chain of addressable RGBW elements.
type Strip interface {
	// Len returns the number of elements on the strip.
	Len() int
	// Show latches pixels onto the strip. len(pixels) == Len().
	Show(pixels []RGBW) error
}

// FileStrip writes each frame as raw G,R,B,W bytes to a device node, such
// as a character device exposed by an SPI LED driver.
type FileStrip struct {
	path   string
	length int
	buf    []byte
}

// NewFileStrip returns a strip of length elements backed by path.
func NewFileStrip(path string, length int) (*FileStrip, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid strip length %d", length)
	}
	return &FileStrip{
		path:   path,
		length: length,
		buf:    make([]byte, length*4),
	}, nil
}

func (s *FileStrip) Len() int { return s.length }

func (s *FileStrip) Show(pixels []RGBW) error {
	for i, p := range pixels {
		if i >= s.length {
			break
		}
		// WS2812-family parts expect green first.
		s.buf[i*4+0] = p.G
		s.buf[i*4+1] = p.R
		s.buf[i*4+2] = p.B
		s.buf[i*4+3] = p.W
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open strip device: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteAt(s.buf, 0); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// LogStrip renders frames to the debug log. Used when running without
// LED hardware.
type LogStrip struct {
	length int
	logger *zap.Logger
}

// NewLogStrip returns a LogStrip of length elements.
func NewLogStrip(length int) *LogStrip {
	return &LogStrip{length: length, logger: logging.Named("strip")}
}

func (s *LogStrip) Len() int { return s.length }

func (s *LogStrip) Show(pixels []RGBW) error {
	var first RGBW
	if len(pixels) > 0 {
		first = pixels[0]
	}
	s.logger.Debug("Frame",
		zap.Int("pixels", len(pixels)),
		zap.String("color", first.String()),
	)
	return nil
}

// MemoryStrip keeps the last shown frame in memory.
type MemoryStrip struct {
	mu     sync.Mutex
	pixels []RGBW
	frames int
}

// NewMemoryStrip returns a MemoryStrip of length elements.
func NewMemoryStrip(length int) *MemoryStrip {
	return &MemoryStrip{pixels: make([]RGBW, length)}
}

func (s *MemoryStrip) Len() int { return len(s.pixels) }

func (s *MemoryStrip) Show(pixels []RGBW) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.pixels, pixels)
	s.frames++
	return nil
}

// Pixel returns element i of the last frame.
func (s *MemoryStrip) Pixel(i int) RGBW {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pixels[i]
}

// Frames returns the number of frames shown.
func (s *MemoryStrip) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
