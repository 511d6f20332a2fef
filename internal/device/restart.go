package device

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/logging"
)

// RestartExitCode is the exit status of a daemon that asked for a
// restart. The service unit maps it to a reboot of the fixture.
const RestartExitCode = 75

// ProcessRestarter ends the daemon by cancelling its root context. Only
// the first request counts.
type ProcessRestarter struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	requested bool
	reason    string
}

// NewProcessRestarter returns a restarter that calls cancel.
func NewProcessRestarter(cancel context.CancelFunc) *ProcessRestarter {
	return &ProcessRestarter{cancel: cancel}
}

func (r *ProcessRestarter) Restart(reason string) {
	r.mu.Lock()
	if r.requested {
		r.mu.Unlock()
		return
	}
	r.requested = true
	r.reason = reason
	r.mu.Unlock()

	logging.Warn("Restart requested", zap.String("reason", reason))
	logging.Sync()
	if r.cancel != nil {
		r.cancel()
	}
}

// Requested reports whether a restart was asked for, and why.
func (r *ProcessRestarter) Requested() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason, r.requested
}
