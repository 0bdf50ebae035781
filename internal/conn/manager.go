// ABOUTME: Push-channel connection manager with reconnection backoff.
// ABOUTME: Explicit state machine; all transitions observable, timers injectable.

package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/raglinehq/ragline/internal/transport"
)

// ErrReconnectExhausted indicates the backoff budget was spent without
// re-establishing the connection.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ErrNotConnected indicates a send was attempted while the push channel
// is down.
var ErrNotConnected = errors.New("push channel not connected")

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Scheduler schedules deferred work. Injected so tests can drive the backoff
// machinery without real time. The returned cancel func stops the pending
// call; calling it after the func ran is a no-op.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Options configures a Manager. Zero fields fall back to the engine defaults.
type Options struct {
	Endpoint       string
	ConnectTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	Scheduler      Scheduler
	Logger         *slog.Logger
}

// Manager maintains a single logical connection to the push-channel endpoint.
// It is the only component that touches the transport; everything else
// observes it through Subscribe.
type Manager struct {
	transport transport.Transport
	opts      Options
	logger    *slog.Logger
	sched     Scheduler

	mu          sync.Mutex
	state       State
	conn        transport.Conn
	attempt     int
	cancelRetry func()
	// gen invalidates in-flight dials and read loops from superseded
	// connections. Bumped on every Connect/Disconnect/retry.
	gen int

	subMu       sync.RWMutex
	subscribers map[string]chan Event
}

// New creates a Manager. The connection is not established until Connect.
func New(t transport.Transport, opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 5 * time.Second
	}
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Manager{
		transport:   t,
		opts:        opts,
		logger:      opts.Logger.With("component", "conn"),
		sched:       opts.Scheduler,
		state:       StateDisconnected,
		subscribers: make(map[string]chan Event),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect begins the connection lifecycle. No-op when already Connecting or
// Connected. From Reconnecting or Failed it cancels any pending retry and
// dials immediately with a fresh attempt budget.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.cancelRetryLocked()
	m.attempt = 0
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect tears down the transport and moves to Disconnected, cancelling
// any pending retry timer.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.cancelRetryLocked()
	m.gen++
	c := m.conn
	m.conn = nil
	prev := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
	if prev != StateDisconnected {
		m.logger.Info("push channel disconnected")
		m.publish(Disconnected{Reason: "closed by client"})
	}
}

// Close disconnects and closes all subscriber channels.
func (m *Manager) Close() {
	m.Disconnect()
	m.closeSubscribers()
}

// Send transmits a frame over the live connection.
// Returns ErrNotConnected when the channel is down.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	c := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || c == nil {
		return ErrNotConnected
	}
	return c.Send(ctx, data)
}

// dial attempts to establish the transport for the given generation.
func (m *Manager) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	defer cancel()

	c, err := m.transport.Dial(ctx, m.opts.Endpoint)

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		// Superseded by Disconnect or a newer Connect.
		if err == nil {
			c.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn("connect failed",
			"attempt", m.attempt,
			"error", err)
		m.state = StateReconnecting
		m.scheduleRetryLocked()
		m.mu.Unlock()
		return
	}

	m.conn = c
	m.state = StateConnected
	m.attempt = 0
	m.mu.Unlock()

	m.logger.Info("push channel connected", "transport", m.transport.Name())
	m.publish(Connected{})
	go m.readLoop(gen, c)
}

// readLoop pumps inbound frames until the connection breaks or is superseded.
func (m *Manager) readLoop(gen int, c transport.Conn) {
	for {
		data, err := c.Receive(context.Background())
		if err == nil {
			m.publish(Frame{Data: data})
			continue
		}

		m.mu.Lock()
		if gen != m.gen || m.state != StateConnected {
			// Disconnect already handled teardown.
			m.mu.Unlock()
			return
		}
		m.conn = nil
		m.state = StateReconnecting
		m.mu.Unlock()
		c.Close()

		m.logger.Warn("push channel dropped", "reason", err)
		m.publish(Disconnected{Reason: err.Error()})

		m.mu.Lock()
		if gen == m.gen && m.state == StateReconnecting {
			m.scheduleRetryLocked()
		}
		m.mu.Unlock()
		return
	}
}

// scheduleRetryLocked schedules the next reconnect attempt or transitions to
// Failed when the budget is spent. Rescheduling cancels any pending timer so
// at most one is in flight. Must be called with mu held.
func (m *Manager) scheduleRetryLocked() {
	if m.attempt >= m.opts.MaxAttempts {
		m.cancelRetryLocked()
		m.state = StateFailed
		m.logger.Error("reconnect attempts exhausted", "attempts", m.attempt)
		m.publish(Failed{Err: ErrReconnectExhausted})
		return
	}

	attempt := m.attempt
	delay := backoffDelay(m.opts.BackoffBase, m.opts.BackoffCap, attempt)
	m.attempt++

	m.cancelRetryLocked()
	m.cancelRetry = m.sched.AfterFunc(delay, m.retryFire)

	m.logger.Info("reconnect scheduled",
		"attempt", attempt,
		"delay", delay)
	m.publish(Reconnecting{Attempt: attempt})
}

// retryFire is invoked by the scheduler when a backoff delay elapses.
func (m *Manager) retryFire() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.cancelRetry = nil
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.dial(gen)
}

// cancelRetryLocked stops any pending retry timer. Must be called with mu held.
func (m *Manager) cancelRetryLocked() {
	if m.cancelRetry != nil {
		m.cancelRetry()
		m.cancelRetry = nil
	}
}

// backoffDelay computes min(base << attempt, limit).
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		return limit
	}
	d := base << uint(attempt)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}
