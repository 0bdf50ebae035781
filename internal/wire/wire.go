// ABOUTME: JSON wire envelopes for the push channel.
// ABOUTME: Decodes and validates server events, encodes client commands.

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/raglinehq/ragline/internal/chat"
)

// Frame type tags. The server event set is closed: anything else is rejected
// at the boundary before it can reach the engine.
const (
	TypeNewMessage     = "new_message"
	TypeSessionCleared = "session_cleared"
	TypeJoinSession    = "join_session"
)

// Event is a sealed interface over decoded server events.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
	// SessionID returns the session the event is scoped to.
	SessionID() string
}

// NewMessage delivers one conversation turn pushed by the server.
type NewMessage struct {
	Session string
	Message chat.Message
}

func (NewMessage) event() {}

// SessionID returns the session the message belongs to.
func (e NewMessage) SessionID() string { return e.Session }

// SessionCleared announces that the session's history was wiped,
// possibly by another client sharing the session.
type SessionCleared struct {
	Session string
}

func (SessionCleared) event() {}

// SessionID returns the session that was cleared.
func (e SessionCleared) SessionID() string { return e.Session }

// Interface compliance checks.
var (
	_ Event = NewMessage{}
	_ Event = SessionCleared{}
)

// envelope is the raw JSON frame shared by server events and client commands.
type envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// Decode parses and validates a server frame. Unknown types, missing session
// ids, and malformed message payloads are all rejected here so the engine only
// ever sees well-formed events.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}
	if env.SessionID == "" {
		return nil, fmt.Errorf("frame %q missing sessionId", env.Type)
	}

	switch env.Type {
	case TypeNewMessage:
		if len(env.Message) == 0 {
			return nil, fmt.Errorf("new_message frame missing message payload")
		}
		var msg chat.Message
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			return nil, fmt.Errorf("parsing message payload: %w", err)
		}
		if msg.ID == "" {
			return nil, fmt.Errorf("message missing id")
		}
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("unknown message role %q", msg.Role)
		}
		return NewMessage{Session: env.SessionID, Message: msg}, nil

	case TypeSessionCleared:
		return SessionCleared{Session: env.SessionID}, nil

	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}

// EncodeJoin builds the join_session command that subscribes the client to a
// session's events. Rejoining with a new id supersedes the old subscription
// server-side; there is no separate unsubscribe command.
func EncodeJoin(sessionID string) ([]byte, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("join_session requires a session id")
	}
	return json.Marshal(envelope{Type: TypeJoinSession, SessionID: sessionID})
}

// DecodeJoin parses a client join_session command. Used by the backend side of
// the contract (and the development server in cmd/fake-backend).
func DecodeJoin(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parsing frame: %w", err)
	}
	if env.Type != TypeJoinSession {
		return "", fmt.Errorf("unexpected frame type %q", env.Type)
	}
	if env.SessionID == "" {
		return "", fmt.Errorf("join_session missing sessionId")
	}
	return env.SessionID, nil
}

// EncodeNewMessage builds the server frame that pushes a message to
// subscribers of a session.
func EncodeNewMessage(sessionID string, msg chat.Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return json.Marshal(envelope{Type: TypeNewMessage, SessionID: sessionID, Message: payload})
}

// EncodeSessionCleared builds the server frame announcing a wiped session.
func EncodeSessionCleared(sessionID string) ([]byte, error) {
	return json.Marshal(envelope{Type: TypeSessionCleared, SessionID: sessionID})
}
