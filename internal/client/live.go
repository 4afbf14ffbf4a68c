package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// LiveEvent is one message from /api/ws. Payload is left raw: probe.result
// carries a scheduler event and tick.complete a tick summary.
type LiveEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Stream is an open live-results connection.
type Stream struct {
	conn *websocket.Conn
}

// Live connects to the server's websocket feed.
func (c *Client) Live(ctx context.Context) (*Stream, error) {
	u := c.BaseURL + "/api/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (HTTP %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", u, err)
	}
	return &Stream{conn: conn}, nil
}

// Next blocks until the next event arrives or the connection fails.
func (s *Stream) Next() (LiveEvent, error) {
	var evt LiveEvent
	if err := s.conn.ReadJSON(&evt); err != nil {
		return LiveEvent{}, err
	}
	return evt, nil
}

// Close closes the connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}
