// ABOUTME: Tests for the connection state machine and reconnection backoff.
// ABOUTME: Uses a scripted transport and a fake scheduler; no real timers.

package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglinehq/ragline/internal/transport"
)

// fakeScheduler records scheduled callbacks so tests can fire them manually.
type fakeScheduler struct {
	mu    sync.Mutex
	calls []*scheduledCall
}

type scheduledCall struct {
	delay    time.Duration
	fn       func()
	canceled bool
	fired    bool
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &scheduledCall{delay: d, fn: fn}
	s.calls = append(s.calls, c)
	return func() {
		s.mu.Lock()
		c.canceled = true
		s.mu.Unlock()
	}
}

// pending returns the number of live (unfired, uncanceled) timers.
func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if !c.fired && !c.canceled {
			n++
		}
	}
	return n
}

// fire runs the oldest live timer.
func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	var target *scheduledCall
	for _, c := range s.calls {
		if !c.fired && !c.canceled {
			target = c
			break
		}
	}
	s.mu.Unlock()
	require.NotNil(t, target, "no pending timer to fire")
	target.fired = true
	target.fn()
}

// delays returns the delay of every scheduled timer, in order.
func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.delay
	}
	return out
}

// fakeConn is a scripted push-channel connection.
type fakeConn struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		return nil, errors.New("connection dropped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// drop simulates the server side killing the connection.
func (c *fakeConn) drop() { c.Close() }

// fakeTransport fails the first failUntil dials, then hands out fake conns.
type fakeTransport struct {
	mu        sync.Mutex
	failUntil int
	dials     int
	conns     []*fakeConn
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.dials <= t.failUntil {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func newTestManager(t *fakeTransport, sched *fakeScheduler) *Manager {
	return New(t, Options{
		Endpoint:    "http://test",
		BackoffBase: time.Second,
		BackoffCap:  5 * time.Second,
		MaxAttempts: 5,
		Scheduler:   sched,
	})
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == want
	}, time.Second, 2*time.Millisecond, "state never reached %s (now %s)", want, m.State())
}

// collectEvents subscribes and drains events into a slice; the returned func
// snapshots what has arrived so far.
func collectEvents(ctx context.Context, m *Manager) func() []Event {
	events, _ := m.Subscribe(ctx)
	var mu sync.Mutex
	var seen []Event
	go func() {
		for ev := range events {
			mu.Lock()
			seen = append(seen, ev)
			mu.Unlock()
		}
	}()
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Event, len(seen))
		copy(out, seen)
		return out
	}
}

func TestManager_ConnectEstablishes(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, &fakeScheduler{})
	defer m.Close()

	assert.Equal(t, StateDisconnected, m.State())

	m.Connect()
	waitForState(t, m, StateConnected)
	assert.Equal(t, 1, tr.dialCount())
}

func TestManager_ConnectIsIdempotentWhileUp(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, &fakeScheduler{})
	defer m.Close()

	m.Connect()
	waitForState(t, m, StateConnected)

	m.Connect()
	m.Connect()
	assert.Equal(t, 1, tr.dialCount(), "connect while connected must not redial")
}

func TestManager_BackoffBoundsAndExhaustion(t *testing.T) {
	tr := &fakeTransport{failUntil: 1 << 30}
	sched := &fakeScheduler{}
	m := newTestManager(tr, sched)
	defer m.Close()

	events := collectEvents(t.Context(), m)

	m.Connect()
	waitForState(t, m, StateReconnecting)

	// Five retries are scheduled; the sixth consecutive failure exhausts the
	// budget instead of scheduling again.
	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool { return sched.pending() == 1 },
			time.Second, 2*time.Millisecond, "retry %d never scheduled", i)
		sched.fire(t)
		if i < 4 {
			waitForState(t, m, StateReconnecting)
		}
	}
	waitForState(t, m, StateFailed)

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}, sched.delays())
	assert.Equal(t, 6, tr.dialCount())

	var attempts []int
	var failed *Failed
	for _, ev := range events() {
		switch ev := ev.(type) {
		case Reconnecting:
			attempts = append(attempts, ev.Attempt)
		case Failed:
			failed = &ev
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, attempts)
	require.NotNil(t, failed, "exhaustion must be surfaced")
	assert.ErrorIs(t, failed.Err, ErrReconnectExhausted)
}

func TestManager_SuccessfulConnectResetsAttempts(t *testing.T) {
	tr := &fakeTransport{failUntil: 2}
	sched := &fakeScheduler{}
	m := newTestManager(tr, sched)
	defer m.Close()

	m.Connect()

	// Two failures, then the third dial succeeds.
	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool { return sched.pending() == 1 },
			time.Second, 2*time.Millisecond)
		sched.fire(t)
	}
	waitForState(t, m, StateConnected)

	// Drop the connection: backoff must start over at the base delay.
	tr.lastConn().drop()
	waitForState(t, m, StateReconnecting)

	delays := sched.delays()
	assert.Equal(t, time.Second, delays[len(delays)-1],
		"attempt counter must reset after a successful connect")
}

func TestManager_DropPublishesDisconnectedThenReconnecting(t *testing.T) {
	tr := &fakeTransport{}
	sched := &fakeScheduler{}
	m := newTestManager(tr, sched)
	defer m.Close()

	events := collectEvents(t.Context(), m)

	m.Connect()
	waitForState(t, m, StateConnected)

	tr.lastConn().drop()
	waitForState(t, m, StateReconnecting)

	require.Eventually(t, func() bool {
		var sawDisconnect, sawReconnect bool
		for _, ev := range events() {
			switch ev.(type) {
			case Disconnected:
				sawDisconnect = true
			case Reconnecting:
				sawReconnect = sawDisconnect
			}
		}
		return sawReconnect
	}, time.Second, 2*time.Millisecond, "expected disconnected then reconnecting")
}

func TestManager_ReconnectRestoresConnection(t *testing.T) {
	tr := &fakeTransport{}
	sched := &fakeScheduler{}
	m := newTestManager(tr, sched)
	defer m.Close()

	m.Connect()
	waitForState(t, m, StateConnected)

	tr.lastConn().drop()
	waitForState(t, m, StateReconnecting)

	require.Eventually(t, func() bool { return sched.pending() == 1 },
		time.Second, 2*time.Millisecond)
	sched.fire(t)
	waitForState(t, m, StateConnected)
	assert.Equal(t, 2, tr.dialCount())
}

func TestManager_DisconnectCancelsPendingRetry(t *testing.T) {
	tr := &fakeTransport{failUntil: 1 << 30}
	sched := &fakeScheduler{}
	m := newTestManager(tr, sched)
	defer m.Close()

	m.Connect()
	waitForState(t, m, StateReconnecting)
	require.Eventually(t, func() bool { return len(sched.delays()) == 1 },
		time.Second, 2*time.Millisecond)

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, sched.pending(), "pending retry must be canceled")
}

func TestManager_ConnectFromFailedRetriesFresh(t *testing.T) {
	tr := &fakeTransport{failUntil: 6}
	sched := &fakeScheduler{}
	m := newTestManager(tr, sched)
	defer m.Close()

	m.Connect()
	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool { return sched.pending() == 1 },
			time.Second, 2*time.Millisecond)
		sched.fire(t)
	}
	waitForState(t, m, StateFailed)

	// The seventh dial succeeds; an explicit Connect leaves Failed.
	m.Connect()
	waitForState(t, m, StateConnected)
}

func TestManager_SendRequiresConnection(t *testing.T) {
	m := newTestManager(&fakeTransport{}, &fakeScheduler{})
	defer m.Close()

	err := m.Send(t.Context(), []byte("frame"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_FramesReachSubscribers(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, &fakeScheduler{})
	defer m.Close()

	events, _ := m.Subscribe(t.Context())

	m.Connect()
	waitForState(t, m, StateConnected)
	tr.lastConn().inbound <- []byte(`{"hello":true}`)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if frame, ok := ev.(Frame); ok {
				assert.JSONEq(t, `{"hello":true}`, string(frame.Data))
				return
			}
		case <-deadline:
			t.Fatal("frame never delivered")
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	limit := 5 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, backoffDelay(base, limit, attempt), "attempt %d", attempt)
	}
	assert.Equal(t, limit, backoffDelay(base, limit, 64), "large attempts clamp to the cap")
}
