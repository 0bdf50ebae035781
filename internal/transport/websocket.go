// ABOUTME: WebSocket push-channel transport built on coder/websocket.
// ABOUTME: Preferred streaming transport; frames are JSON text messages.

package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

// wsPath is the push-channel endpoint path on the backend.
const wsPath = "/ws"

// WebSocket dials the backend's websocket push endpoint.
type WebSocket struct{}

// Name returns "websocket".
func (WebSocket) Name() string { return "websocket" }

// Dial opens a websocket connection to the push endpoint derived from the
// backend base URL (http→ws, https→wss).
func (WebSocket) Dial(ctx context.Context, endpoint string) (Conn, error) {
	wsURL, err := pushURL(endpoint)
	if err != nil {
		return nil, err
	}

	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	// Conversation histories can be large; don't cap inbound frames at the
	// library's 32KiB default.
	c.SetReadLimit(1 << 20)

	return &wsConn{c: c}, nil
}

// pushURL converts a backend base URL into the websocket push URL.
func pushURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = wsPath
	return u.String(), nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
