package firmware

import (
	"errors"
	"fmt"
)

// Kind classifies an update failure.
type Kind int

const (
	// KindNoNetwork means the fixture was not attached when the update started.
	KindNoNetwork Kind = iota + 1
	// KindTransport means the request could not be sent or the body could not be read.
	KindTransport
	// KindFetchFailed means the server answered with a non-success status.
	KindFetchFailed
	// KindInvalidSize means the response declared no usable content length.
	KindInvalidSize
	// KindInsufficientSpace means the image does not fit the update slot.
	KindInsufficientSpace
	// KindIncomplete means fewer (or more) bytes arrived than were declared.
	KindIncomplete
	// KindFinalizeFailed means the slot could not be reserved or committed.
	KindFinalizeFailed
	// KindBusy means another update is already running.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindNoNetwork:
		return "NoNetwork"
	case KindTransport:
		return "Transport"
	case KindFetchFailed:
		return "FetchFailed"
	case KindInvalidSize:
		return "InvalidSize"
	case KindInsufficientSpace:
		return "InsufficientSpace"
	case KindIncomplete:
		return "Incomplete"
	case KindFinalizeFailed:
		return "FinalizeFailed"
	case KindBusy:
		return "Busy"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// UpdateError is the terminal error of one update attempt. None of them
// affect the running image.
type UpdateError struct {
	Kind Kind
	// Status is the HTTP status for KindFetchFailed.
	Status int
	// Expected and Written are byte counts for KindIncomplete and KindInsufficientSpace.
	Expected int64
	Written  int64
	// Reason is a human-readable detail.
	Reason string
	Err    error
}

func (e *UpdateError) Error() string {
	msg := "firmware update failed: " + e.Kind.String()
	switch e.Kind {
	case KindFetchFailed:
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	case KindIncomplete:
		msg += fmt.Sprintf(" (%d of %d bytes)", e.Written, e.Expected)
	case KindInsufficientSpace:
		msg += fmt.Sprintf(" (%d bytes requested)", e.Expected)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	return msg
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Is matches another *UpdateError of the same kind, so callers can write
// errors.Is(err, firmware.ErrIncomplete).
func (e *UpdateError) Is(target error) bool {
	t, ok := target.(*UpdateError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNoNetwork         = &UpdateError{Kind: KindNoNetwork}
	ErrTransport         = &UpdateError{Kind: KindTransport}
	ErrFetchFailed       = &UpdateError{Kind: KindFetchFailed}
	ErrInvalidSize       = &UpdateError{Kind: KindInvalidSize}
	ErrInsufficientSpace = &UpdateError{Kind: KindInsufficientSpace}
	ErrIncomplete        = &UpdateError{Kind: KindIncomplete}
	ErrFinalizeFailed    = &UpdateError{Kind: KindFinalizeFailed}
	ErrBusy              = &UpdateError{Kind: KindBusy}
)

// KindOf returns the kind of err, or 0 when err is not an *UpdateError.
func KindOf(err error) Kind {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return 0
}
