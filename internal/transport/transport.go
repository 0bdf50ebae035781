// ABOUTME: Push-channel transport abstraction with ordered fallback.
// ABOUTME: Defines Transport/Conn and a chain that tries transports in preference order.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoTransport indicates every transport in a fallback chain failed to dial.
var ErrNoTransport = errors.New("no transport could establish a connection")

// Transport establishes push-channel connections against a backend endpoint.
// Implementations are stateless; all per-connection state lives on the Conn.
type Transport interface {
	// Name identifies the transport in logs and config ("websocket", "polling").
	Name() string
	// Dial establishes a connection to the backend at the given base URL
	// (e.g. "http://localhost:5000"). The transport derives its own path.
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is one established push-channel connection.
type Conn interface {
	// Send transmits a single frame to the server.
	Send(ctx context.Context, data []byte) error
	// Receive blocks until the next frame arrives or the connection breaks.
	Receive(ctx context.Context) ([]byte, error)
	// Close tears down the connection. Pending Receive calls return an error.
	Close() error
}

// Fallback is a Transport that tries a list of transports in preference order
// and returns the first connection that establishes.
type Fallback struct {
	transports []Transport
	logger     *slog.Logger
}

// NewFallback builds a fallback chain. Pass nil logger for default.
func NewFallback(logger *slog.Logger, transports ...Transport) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		transports: transports,
		logger:     logger.With("component", "transport"),
	}
}

// Name returns the name of the chain's preferred transport.
func (f *Fallback) Name() string {
	if len(f.transports) == 0 {
		return "none"
	}
	return f.transports[0].Name()
}

// Dial tries each transport in order until one connects.
func (f *Fallback) Dial(ctx context.Context, endpoint string) (Conn, error) {
	var lastErr error
	for _, t := range f.transports {
		conn, err := t.Dial(ctx, endpoint)
		if err == nil {
			f.logger.Debug("transport established", "transport", t.Name())
			return conn, nil
		}
		f.logger.Warn("transport failed, trying next",
			"transport", t.Name(),
			"error", err)
		lastErr = err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTransport, lastErr)
	}
	return nil, ErrNoTransport
}
