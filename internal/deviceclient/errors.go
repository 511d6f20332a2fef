package deviceclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// ErrorType is the category of a failed fixture call.
type ErrorType int

const (
	// ErrTypeNetwork is a transport failure other than the ones below.
	ErrTypeNetwork ErrorType = iota
	// ErrTypeTimeout is a request that did not complete in time.
	ErrTypeTimeout
	// ErrTypeConnectionRefused means nothing listens on the fixture port.
	ErrTypeConnectionRefused
	// ErrTypeDNS is a failed host name lookup, usually a .local name.
	ErrTypeDNS
	// ErrTypeHTTP is a non-2xx answer other than the ones below.
	ErrTypeHTTP
	// ErrTypeRejected is a 400: the fixture refused the request body.
	ErrTypeRejected
	// ErrTypeBusy is a 409 or 429: try again later.
	ErrTypeBusy
	// ErrTypeParse is an answer that is not the expected JSON.
	ErrTypeParse
)

func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeConnectionRefused:
		return "Connection Refused"
	case ErrTypeDNS:
		return "DNS Error"
	case ErrTypeHTTP:
		return "HTTP Error"
	case ErrTypeRejected:
		return "Rejected"
	case ErrTypeBusy:
		return "Busy"
	case ErrTypeParse:
		return "Parse Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(et))
	}
}

// DeviceError is an error talking to a fixture.
type DeviceError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Host       string
	Retryable  bool
	Err        error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ClassifyNetworkError maps a transport error onto a DeviceError.
func ClassifyNetworkError(err error, host string) *DeviceError {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) {
		return &DeviceError{Type: ErrTypeTimeout, Message: "request timed out", Host: host, Retryable: true, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &DeviceError{Type: ErrTypeDNS, Message: fmt.Sprintf("cannot resolve %s", dnsErr.Name), Host: host, Err: err}
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return &DeviceError{Type: ErrTypeConnectionRefused, Message: "fixture refused connection", Host: host, Retryable: true, Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassifyNetworkError(urlErr.Err, host)
	}

	return &DeviceError{Type: ErrTypeNetwork, Message: "network error", Host: host, Retryable: true, Err: err}
}

// newHTTPError builds the error for a non-2xx answer. message is the
// fixture's own explanation, if it sent one.
func newHTTPError(status int, message, host string) *DeviceError {
	if message == "" {
		message = http.StatusText(status)
	}
	e := &DeviceError{Type: ErrTypeHTTP, Message: message, StatusCode: status, Host: host}
	switch {
	case status == http.StatusBadRequest:
		e.Type = ErrTypeRejected
	case status == http.StatusConflict, status == http.StatusTooManyRequests:
		e.Type = ErrTypeBusy
	case status >= 500:
		e.Retryable = true
	}
	return e
}

func newParseError(message string, err error) *DeviceError {
	return &DeviceError{Type: ErrTypeParse, Message: message, Err: err}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Retryable
}

// IsNetworkError reports whether err happened below HTTP.
func IsNetworkError(err error) bool {
	var de *DeviceError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Type {
	case ErrTypeNetwork, ErrTypeTimeout, ErrTypeConnectionRefused, ErrTypeDNS:
		return true
	}
	return false
}

// ShortMessage returns a one-line description of err for the terminal.
func ShortMessage(err error) string {
	var de *DeviceError
	if !errors.As(err, &de) {
		return err.Error()
	}
	switch de.Type {
	case ErrTypeTimeout:
		return "Fixture not responding (timeout)"
	case ErrTypeConnectionRefused:
		return "Fixture refused connection"
	case ErrTypeDNS:
		return "Cannot resolve fixture host name"
	case ErrTypeNetwork:
		return "Network error, check connection"
	case ErrTypeRejected:
		return "Request rejected: " + de.Message
	case ErrTypeBusy:
		return "Fixture busy: " + de.Message
	case ErrTypeHTTP:
		return fmt.Sprintf("Fixture error (HTTP %d)", de.StatusCode)
	case ErrTypeParse:
		return "Unexpected response from fixture"
	}
	return de.Message
}

// Hint returns troubleshooting advice for err.
func Hint(err error) string {
	var de *DeviceError
	if !errors.As(err, &de) {
		return "An unexpected error occurred. Please try again."
	}

	switch de.Type {
	case ErrTypeTimeout:
		return strings.Join([]string{
			"The fixture did not respond in time.",
			"Troubleshooting:",
			"  • Check that the fixture is powered on",
			"  • A fixture that is joining a network stops answering on its access point",
			"  • Try a longer --timeout",
		}, "\n")
	case ErrTypeConnectionRefused:
		return strings.Join([]string{
			"The fixture refused the connection.",
			"Troubleshooting:",
			"  • Verify the port (default 80)",
			"  • The fixture may be restarting after an update or an erase",
		}, "\n")
	case ErrTypeDNS:
		return strings.Join([]string{
			"Could not resolve the fixture host name.",
			"Troubleshooting:",
			"  • Run 'lumen-cfg discover' and use the address it prints",
			"  • .local names need mDNS support on this machine",
		}, "\n")
	case ErrTypeNetwork:
		return strings.Join([]string{
			"Network communication failed.",
			"Troubleshooting:",
			"  • While provisioning, join the fixture access point (Lumen_XXXXXX)",
			"  • Once attached, use the same network as the fixture",
		}, "\n")
	case ErrTypeBusy:
		return "The fixture is busy. Wait for the running operation to finish and retry."
	case ErrTypeRejected:
		return "The fixture rejected the request. Check the values you passed."
	case ErrTypeHTTP:
		if de.StatusCode >= 500 {
			return "The fixture reported an internal error. Try again, or restart it."
		}
		return fmt.Sprintf("The fixture returned HTTP %d.", de.StatusCode)
	case ErrTypeParse:
		return "The fixture answered with something other than the control surface JSON. Check the address."
	}
	return "Check the error message for details."
}
