package deviceclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one message from the fixture event stream. Data is left raw;
// its shape depends on Type.
type Event struct {
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Watch streams events to fn until ctx ends, the fixture closes the
// stream, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(Event) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/events"

	dialer := websocket.Dialer{HandshakeTimeout: c.HTTPClient.Timeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return newHTTPError(resp.StatusCode, "event stream unavailable", c.host)
		}
		return ClassifyNetworkError(err, c.host)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var e Event
		if err := conn.ReadJSON(&e); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				return newParseError("decode event", err)
			}
			return ClassifyNetworkError(err, c.host)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}
