// ABOUTME: Binds the active session identity to the push-channel connection.
// ABOUTME: Replays the subscription on reconnect and filters events by session id.

package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raglinehq/ragline/internal/chat"
	"github.com/raglinehq/ragline/internal/conn"
	"github.com/raglinehq/ragline/internal/wire"
)

// Connection is the subset of the connection manager the channel relies on.
type Connection interface {
	Subscribe(ctx context.Context) (<-chan conn.Event, string)
	Unsubscribe(id string)
	Send(ctx context.Context, data []byte) error
	State() conn.State
}

// SessionChannel scopes server-pushed events to the currently bound session.
// Binding survives reconnects: the join command is recorded and replayed every
// time the connection comes back up.
type SessionChannel struct {
	conn   Connection
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	onMessage func(chat.Message)
	onCleared func()
}

// New creates a SessionChannel observing the given connection.
// Pass nil logger for default.
func New(c Connection, logger *slog.Logger) *SessionChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionChannel{
		conn:   c,
		logger: logger.With("component", "channel"),
	}
}

// SetHandlers registers the event sinks invoked for events scoped to the
// bound session. Must be set before Start.
func (s *SessionChannel) SetHandlers(onMessage func(chat.Message), onCleared func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = onMessage
	s.onCleared = onCleared
}

// Start subscribes to connection events and relays push events until ctx is
// cancelled.
func (s *SessionChannel) Start(ctx context.Context) {
	events, _ := s.conn.Subscribe(ctx)
	go s.relay(ctx, events)
}

// Bind subscribes the given session on the push channel. A previous binding
// is superseded by the rejoin; the wire contract has no separate unsubscribe.
// If the connection is down the binding is recorded and replayed when the
// connection next reaches Connected, so a session survives reconnection
// transparently.
func (s *SessionChannel) Bind(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	prev := s.sessionID
	s.sessionID = sessionID
	s.mu.Unlock()

	if prev != "" && prev != sessionID {
		s.logger.Debug("rebinding session", "from", prev, "to", sessionID)
	}

	if s.conn.State() != conn.StateConnected {
		// Replayed by relay on the next Connected event.
		return nil
	}
	return s.join(ctx, sessionID)
}

// Unbind clears the recorded session. Local only: the server-side subscription
// is superseded by the next join.
func (s *SessionChannel) Unbind() {
	s.mu.Lock()
	s.sessionID = ""
	s.mu.Unlock()
}

// SessionID returns the currently bound session id, or empty.
func (s *SessionChannel) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// join sends the join_session command for the given session.
func (s *SessionChannel) join(ctx context.Context, sessionID string) error {
	frame, err := wire.EncodeJoin(sessionID)
	if err != nil {
		return err
	}
	if err := s.conn.Send(ctx, frame); err != nil {
		return err
	}
	s.logger.Debug("joined session", "session_id", sessionID)
	return nil
}

// relay consumes connection events, replaying the binding on reconnect and
// dispatching decoded push events for the bound session.
func (s *SessionChannel) relay(ctx context.Context, events <-chan conn.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case conn.Connected:
				s.replayBind(ctx)
			case conn.Frame:
				s.dispatch(ev.Data)
			}
		}
	}
}

// replayBind re-joins the recorded session after a (re)connect. Failure is
// logged, not surfaced: the binding stays recorded for the next reconnect.
func (s *SessionChannel) replayBind(ctx context.Context) {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	if sessionID == "" {
		return
	}
	if err := s.join(ctx, sessionID); err != nil {
		s.logger.Warn("failed to replay session bind",
			"session_id", sessionID,
			"error", err)
	}
}

// dispatch validates one inbound frame and relays it when scoped to the bound
// session. Invalid frames and events for other sessions are dropped.
func (s *SessionChannel) dispatch(data []byte) {
	event, err := wire.Decode(data)
	if err != nil {
		s.logger.Warn("dropping invalid frame", "error", err)
		return
	}

	s.mu.Lock()
	sessionID := s.sessionID
	onMessage := s.onMessage
	onCleared := s.onCleared
	s.mu.Unlock()

	if sessionID == "" || event.SessionID() != sessionID {
		s.logger.Debug("dropping event for unbound session",
			"event_session", event.SessionID(),
			"bound_session", sessionID)
		return
	}

	switch ev := event.(type) {
	case wire.NewMessage:
		if onMessage != nil {
			onMessage(ev.Message)
		}
	case wire.SessionCleared:
		if onCleared != nil {
			onCleared()
		}
	}
}
