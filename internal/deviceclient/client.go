package deviceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/muurk/lumen/internal/api"
)

const (
	// DefaultTimeout bounds one HTTP request.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is how often a failed read is retried.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the first pause between retries; it doubles
	// up to DefaultMaxRetryDelay.
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultMaxRetryDelay = 5 * time.Second

	// DefaultPollInterval is how often WaitForUpdate asks for progress.
	DefaultPollInterval = time.Second
)

// Client talks to one fixture's control surface.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// MaxRetries applies to GET requests only. Commands are sent once.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	host string
}

// New creates a client for baseURL, e.g. "http://lumen-12abcd.local".
func New(baseURL string) *Client {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	return &Client{
		BaseURL:       baseURL,
		HTTPClient:    &http.Client{Timeout: DefaultTimeout},
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
		host:          host,
	}
}

// NewForHost creates a client for host and port.
func NewForHost(host string, port int) *Client {
	return New("http://" + net.JoinHostPort(host, strconv.Itoa(port)))
}

// SetTimeout sets the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// SetRetry configures retries for reads.
func (c *Client) SetRetry(maxRetries int, delay time.Duration) {
	c.MaxRetries = maxRetries
	c.RetryDelay = delay
}

// DeviceInfo returns the fixture identity.
func (c *Client) DeviceInfo(ctx context.Context) (*api.DeviceInfo, error) {
	var info api.DeviceInfo
	if err := c.get(ctx, "/device_info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Scan lists the networks the fixture can see.
func (c *Client) Scan(ctx context.Context) ([]api.Network, error) {
	var resp api.ScanResponse
	if err := c.get(ctx, "/scan", &resp); err != nil {
		return nil, err
	}
	return resp.Networks, nil
}

// Connect submits network credentials. Success means the fixture stored
// them and started joining, not that it joined.
func (c *Client) Connect(ctx context.Context, ssid, passphrase string) (*api.Status, error) {
	var st api.Status
	req := api.ConnectRequest{SSID: ssid, Passphrase: passphrase}
	if err := c.send(ctx, http.MethodPost, "/connect", req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LED returns the stored LED state.
func (c *Client) LED(ctx context.Context) (*api.LEDState, error) {
	var st api.LEDState
	if err := c.get(ctx, "/led", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetLED applies a partial LED update and returns the resulting state.
func (c *Client) SetLED(ctx context.Context, req api.LEDRequest) (*api.LEDState, error) {
	var st api.LEDState
	if err := c.send(ctx, http.MethodPost, "/led", req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateFirmware asks the fixture to fetch and install firmwareURL.
func (c *Client) UpdateFirmware(ctx context.Context, firmwareURL string) error {
	var st api.Status
	return c.send(ctx, http.MethodPost, "/update_firmware", api.UpdateRequest{FirmwareURL: firmwareURL}, &st)
}

// UpdateStatus returns the current or last update session.
func (c *Client) UpdateStatus(ctx context.Context) (*api.UpdateStatus, error) {
	var st api.UpdateStatus
	if err := c.get(ctx, "/update_status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// WaitForUpdate polls until the session finishes. progress, if set,
// sees every poll. A fixture that stops answering after reporting done
// is restarting into the new image, which counts as success.
func (c *Client) WaitForUpdate(ctx context.Context, interval time.Duration, progress func(api.UpdateStatus)) (*api.UpdateStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *api.UpdateStatus
	for {
		st, err := c.fetchOnce(ctx, "/update_status")
		switch {
		case err == nil:
			last = st
			if progress != nil {
				progress(*st)
			}
			if st.Finished() {
				return st, nil
			}
		case IsNetworkError(err) && last != nil && last.Phase == "finalizing":
			last.Phase = "done"
			return last, nil
		case !IsRetryable(err):
			return last, err
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, path string) (*api.UpdateStatus, error) {
	var st api.UpdateStatus
	if err := c.do(ctx, http.MethodGet, path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// get performs a GET with retries and exponential backoff.
func (c *Client) get(ctx context.Context, path string, out any) error {
	var lastErr error
	delay := c.RetryDelay

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.MaxRetryDelay {
				delay = c.MaxRetryDelay
			}
		}

		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, method, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return ClassifyNetworkError(err, c.host)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ClassifyNetworkError(err, c.host)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ClassifyNetworkError(err, c.host)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var st api.Status
		_ = json.Unmarshal(data, &st)
		return newHTTPError(resp.StatusCode, st.Message, c.host)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newParseError(fmt.Sprintf("decode %s response", path), err)
	}
	return nil
}
