// ABOUTME: Connection lifecycle event types and subscriber fan-out.
// ABOUTME: Publishes tagged events to all subscribers with deterministic unsubscribe.

package conn

import (
	"context"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Event is a sealed interface over connection notifications.
// The unexported marker method prevents external implementations.
type Event interface {
	connEvent()
}

// Connected signals the transport is established.
type Connected struct{}

func (Connected) connEvent() {}

// Disconnected signals the connection dropped or was closed.
type Disconnected struct {
	Reason string
}

func (Disconnected) connEvent() {}

// Reconnecting signals a retry has been scheduled.
type Reconnecting struct {
	Attempt int
}

func (Reconnecting) connEvent() {}

// Failed signals the retry budget is exhausted. The manager stays in
// StateFailed until an explicit Connect.
type Failed struct {
	Err error
}

func (Failed) connEvent() {}

// Frame carries one raw inbound push-channel payload.
type Frame struct {
	Data []byte
}

func (Frame) connEvent() {}

// Interface compliance checks.
var (
	_ Event = Connected{}
	_ Event = Disconnected{}
	_ Event = Reconnecting{}
	_ Event = Failed{}
	_ Event = Frame{}
)

// Subscribe registers a subscriber for connection events. Returns a channel
// that receives events and a subscription ID for later unsubscription. The
// subscription is automatically cleaned up when ctx is cancelled.
func (m *Manager) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	m.subMu.Lock()
	m.subscribers[subID] = ch
	m.subMu.Unlock()

	m.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		m.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Manager) Unsubscribe(subID string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	ch, ok := m.subscribers[subID]
	if !ok {
		return
	}
	delete(m.subscribers, subID)
	close(ch)

	m.logger.Debug("subscriber removed", "sub_id", subID)
}

// publish sends an event to all subscribers. Non-blocking: events are dropped
// for subscribers whose channels are full. The read lock is held across the
// sends so a concurrent Unsubscribe cannot close a channel mid-send.
func (m *Manager) publish(event Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- event:
			// Sent
		default:
			m.logger.Debug("dropped event for slow subscriber")
		}
	}
}

// closeSubscribers closes every subscriber channel. Called from Close.
func (m *Manager) closeSubscribers() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subID, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, subID)
	}
}
