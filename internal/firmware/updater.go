package firmware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/muurk/lumen/internal/logging"
	"go.uber.org/zap"
)

// Phase is the stage of the current or last update.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseWriting    Phase = "writing"
	PhaseFinalizing Phase = "finalizing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Status describes the current or most recent update session.
type Status struct {
	Source       string    `json:"source,omitempty"`
	Phase        Phase     `json:"phase"`
	ExpectedSize uint32    `json:"expected_size"`
	BytesWritten uint32    `json:"bytes_written"`
	SHA256       string    `json:"sha256,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// Connectivity reports whether the fixture is attached to a network.
type Connectivity interface {
	Attached() bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func() bool

func (f ConnectivityFunc) Attached() bool { return f() }

// Restarter reboots the fixture into the newly selected image.
type Restarter interface {
	Restart(reason string)
}

// progressStep is how many bytes pass between progress reports.
const progressStep = 64 * 1024

// Updater downloads an image over HTTP into a Partition. At most one
// update runs at a time.
type Updater struct {
	partition Partition
	net       Connectivity
	restart   Restarter
	client    *http.Client
	logger    *zap.Logger

	mu       sync.Mutex
	running  bool
	status   Status
	onStatus func(Status)
	now      func() time.Time
}

// NewUpdater creates an Updater. A nil client uses a client with a five
// minute overall timeout.
func NewUpdater(partition Partition, net Connectivity, restart Restarter, client *http.Client) *Updater {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Updater{
		partition: partition,
		net:       net,
		restart:   restart,
		client:    client,
		logger:    logging.Named("firmware"),
		status:    Status{Phase: PhaseIdle},
		now:       time.Now,
	}
}

// OnStatus registers fn to receive every status change. fn runs on the
// update goroutine and must not block.
func (u *Updater) OnStatus(fn func(Status)) {
	u.mu.Lock()
	u.onStatus = fn
	u.mu.Unlock()
}

// Status returns a snapshot of the current or last session.
func (u *Updater) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// Running reports whether an update is in progress.
func (u *Updater) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// ValidateSource checks that source is an absolute http or https URL.
func ValidateSource(source string) error {
	parsed, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("invalid firmware URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid firmware URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("firmware URL has no host")
	}
	return nil
}

// Start runs Apply in the background. It returns ErrBusy when an update
// is already running and nil otherwise. The outcome is reported through
// Status and the log.
func (u *Updater) Start(ctx context.Context, source string) error {
	if !u.acquire() {
		return &UpdateError{Kind: KindBusy, Reason: "an update is already in progress"}
	}
	go func() {
		defer u.releaseRun()
		_ = u.apply(ctx, source)
	}()
	return nil
}

// Apply downloads source and installs it. On success the Restarter is
// invoked and Apply returns nil. Every failure leaves the running image
// and the boot selection unchanged.
func (u *Updater) Apply(ctx context.Context, source string) error {
	if !u.acquire() {
		return &UpdateError{Kind: KindBusy, Reason: "an update is already in progress"}
	}
	defer u.releaseRun()
	return u.apply(ctx, source)
}

func (u *Updater) acquire() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return false
	}
	u.running = true
	return true
}

func (u *Updater) releaseRun() {
	u.mu.Lock()
	u.running = false
	u.mu.Unlock()
}

func (u *Updater) apply(ctx context.Context, source string) error {
	u.update(func(s *Status) {
		*s = Status{Source: source, Phase: PhaseFetching, StartedAt: u.now()}
	})

	err := u.fetchAndInstall(ctx, source)
	if err != nil {
		u.logger.Error("Firmware update failed", zap.String("source", source), zap.Error(err))
		u.update(func(s *Status) {
			s.Phase = PhaseFailed
			s.Error = err.Error()
			s.ErrorKind = KindOf(err).String()
			s.FinishedAt = u.now()
		})
		return err
	}

	u.update(func(s *Status) {
		s.Phase = PhaseDone
		s.FinishedAt = u.now()
	})
	u.logger.Info("Firmware update installed, restarting", zap.String("source", source))
	if u.restart != nil {
		u.restart.Restart("firmware update installed")
	}
	return nil
}

func (u *Updater) fetchAndInstall(ctx context.Context, source string) error {
	if u.net != nil && !u.net.Attached() {
		return &UpdateError{Kind: KindNoNetwork, Reason: "fixture is not attached to a network"}
	}
	if err := ValidateSource(source); err != nil {
		return &UpdateError{Kind: KindTransport, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, http.NoBody)
	if err != nil {
		return &UpdateError{Kind: KindTransport, Reason: "create request", Err: err}
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return &UpdateError{Kind: KindTransport, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpdateError{Kind: KindFetchFailed, Status: resp.StatusCode}
	}

	size := resp.ContentLength
	if size <= 0 || size > math.MaxUint32 {
		return &UpdateError{Kind: KindInvalidSize, Reason: fmt.Sprintf("content length %d", size)}
	}

	u.update(func(s *Status) {
		s.Phase = PhaseWriting
		s.ExpectedSize = uint32(size)
	})

	res, err := u.partition.Begin(size)
	if errors.Is(err, ErrNoSpace) {
		return &UpdateError{Kind: KindInsufficientSpace, Expected: size, Err: err}
	}
	if err != nil {
		return &UpdateError{Kind: KindFinalizeFailed, Reason: "reserve update slot", Err: err}
	}

	hasher := sha256.New()
	pw := &progressWriter{u: u, source: source, expected: uint32(size)}
	// One byte past the declared size is read so an overlong body is caught.
	written, copyErr := io.Copy(io.MultiWriter(res, hasher, pw), io.LimitReader(resp.Body, size+1))

	u.update(func(s *Status) { s.Phase = PhaseFinalizing })

	switch {
	case errors.Is(copyErr, ErrOverflow):
		_ = res.Abort()
		return &UpdateError{Kind: KindIncomplete, Expected: size, Written: written + 1, Reason: "body longer than declared", Err: copyErr}
	case copyErr != nil:
		// A read error never commits, even when every declared byte arrived.
		_ = res.Abort()
		return &UpdateError{Kind: KindIncomplete, Expected: size, Written: written, Err: copyErr}
	case written != size:
		// Finalize releases the reservation and rejects the short image.
		if ferr := res.Finalize(); ferr == nil {
			u.logger.Warn("Partition accepted an incomplete image")
		}
		return &UpdateError{Kind: KindIncomplete, Expected: size, Written: written}
	}

	if err := res.Finalize(); err != nil {
		return &UpdateError{Kind: KindFinalizeFailed, Err: err}
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	u.update(func(s *Status) { s.SHA256 = digest })
	u.logger.Info("Firmware image written",
		zap.Int64("bytes", written),
		zap.String("sha256", digest),
	)
	return nil
}

func (u *Updater) update(fn func(*Status)) {
	u.mu.Lock()
	fn(&u.status)
	snapshot := u.status
	cb := u.onStatus
	u.mu.Unlock()
	if cb != nil {
		cb(snapshot)
	}
}

type progressWriter struct {
	u        *Updater
	source   string
	expected uint32
	written  uint32
	reported uint32
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += uint32(len(b))
	if p.written-p.reported >= progressStep || p.written >= p.expected {
		p.reported = p.written
		written := p.written
		p.u.update(func(s *Status) { s.BytesWritten = written })
		logging.LogUpdateProgress(p.source, written, p.expected)
	}
	return len(b), nil
}
