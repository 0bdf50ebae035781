// ABOUTME: HTTP long-polling fallback transport for the push channel.
// ABOUTME: Registers a poll client server-side and drains queued frames on an interval.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	pollPath = "/api/push/poll"

	// Delay between empty polls. Matches the streaming poll cadence used on
	// the backend rather than hammering it in a tight loop.
	defaultPollInterval = 100 * time.Millisecond
)

// Polling is the fallback transport for environments where websockets are
// blocked. The server queues frames per registered client; each poll drains
// the queue.
type Polling struct {
	// Client is the HTTP client to poll with. Defaults to http.DefaultClient.
	Client *http.Client
	// Interval is the delay between empty polls. Zero means the default.
	Interval time.Duration
}

// Name returns "polling".
func (Polling) Name() string { return "polling" }

// Dial registers a poll client with the backend and returns a Conn that
// drains its frame queue.
func (p Polling) Dial(ctx context.Context, endpoint string) (Conn, error) {
	httpClient := p.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+pollPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building register request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registering poll client: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registering poll client: unexpected status %d", resp.StatusCode)
	}

	var reg struct {
		ClientID string `json:"clientId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return nil, fmt.Errorf("parsing register response: %w", err)
	}
	if reg.ClientID == "" {
		return nil, fmt.Errorf("register response missing clientId")
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &pollConn{
		client:   httpClient,
		base:     endpoint + pollPath + "/" + reg.ClientID,
		interval: interval,
		ctx:      connCtx,
		cancel:   cancel,
	}, nil
}

type pollConn struct {
	client   *http.Client
	base     string
	interval time.Duration
	buffered [][]byte

	// ctx is canceled by Close so a blocked Receive unwinds.
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *pollConn) Send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/send", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending frame: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sending frame: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Receive returns the next queued frame, polling the backend until one
// arrives, the caller's context is done, or the connection is closed.
func (p *pollConn) Receive(ctx context.Context) ([]byte, error) {
	for {
		if len(p.buffered) > 0 {
			frame := p.buffered[0]
			p.buffered = p.buffered[1:]
			return frame, nil
		}

		frames, err := p.poll(ctx)
		if err != nil {
			return nil, err
		}
		p.buffered = append(p.buffered, frames...)

		if len(p.buffered) == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-p.ctx.Done():
				return nil, fmt.Errorf("poll connection closed")
			case <-time.After(p.interval):
			}
		}
	}
}

func (p *pollConn) poll(ctx context.Context) ([][]byte, error) {
	select {
	case <-p.ctx.Done():
		return nil, fmt.Errorf("poll connection closed")
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base, nil)
	if err != nil {
		return nil, fmt.Errorf("building poll request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("poll client expired")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Frames []json.RawMessage `json:"frames"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parsing poll response: %w", err)
	}

	frames := make([][]byte, len(body.Frames))
	for i, f := range body.Frames {
		frames[i] = []byte(f)
	}
	return frames, nil
}

// Close deregisters the poll client, best-effort.
func (p *pollConn) Close() error {
	p.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.base, nil)
	if err != nil {
		return nil
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()
	return nil
}
