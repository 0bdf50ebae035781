// ABOUTME: Sync orchestrator tying REST calls to push events and the message store.
// ABOUTME: Optimistic sends with rollback, stale-response discard, sources side-channel.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raglinehq/ragline/internal/chat"
	"github.com/raglinehq/ragline/internal/msgstore"
)

// ErrEmptyMessage indicates a send with blank text. Rejected before any
// network call.
var ErrEmptyMessage = errors.New("message text is empty")

// ErrSendInFlight indicates a send was attempted while another is pending for
// the active session.
var ErrSendInFlight = errors.New("a send is already in flight")

// ErrNoActiveSession indicates an operation that requires an active session.
var ErrNoActiveSession = errors.New("no active session")

// APIClient is the subset of the request/response client the orchestrator uses.
type APIClient interface {
	CreateSession(ctx context.Context) (string, error)
	History(ctx context.Context, sessionID string) ([]chat.Message, error)
	SendMessage(ctx context.Context, sessionID, text string) ([]chat.Source, error)
	ClearHistory(ctx context.Context, sessionID string) error
}

// Channel is the subset of the session channel the orchestrator drives.
type Channel interface {
	Bind(ctx context.Context, sessionID string) error
	Unbind()
}

// Orchestrator owns the active session: it drives the message store for
// optimistic inserts, applies events relayed from the session channel, and
// keeps the sources panel side-channel.
type Orchestrator struct {
	api     APIClient
	channel Channel
	logger  *slog.Logger

	mu           sync.Mutex
	store        *msgstore.Store
	sessionID    string
	startGen     int
	sendInFlight bool
	sources      []chat.Source
	sourcesOpen  bool

	// Observer callbacks use their own lock: change notifications fire from
	// store mutations that may already hold mu.
	cbMu      sync.Mutex
	onChange  func([]chat.Message)
	onSources func([]chat.Source, bool)
}

// New creates an Orchestrator. Wire its OnMessageArrived/OnCleared methods as
// the channel's handlers. Pass nil logger for default.
func New(api APIClient, ch Channel, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		api:     api,
		channel: ch,
		logger:  logger.With("component", "engine"),
	}
}

// OnChange registers an observer for message-list changes. The callback
// receives the resulting snapshot after every content-altering mutation.
func (o *Orchestrator) OnChange(fn func([]chat.Message)) {
	o.cbMu.Lock()
	o.onChange = fn
	o.cbMu.Unlock()
}

// OnSources registers an observer for sources panel state changes. The
// callback may fire while the orchestrator's lock is held and must not call
// back into it.
func (o *Orchestrator) OnSources(fn func([]chat.Source, bool)) {
	o.cbMu.Lock()
	o.onSources = fn
	o.cbMu.Unlock()
}

// SessionID returns the active session id, or empty.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Messages returns a snapshot of the active conversation.
func (o *Orchestrator) Messages() []chat.Message {
	o.mu.Lock()
	store := o.store
	o.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Snapshot()
}

// Sources returns the sources panel contents and whether the panel is open.
func (o *Orchestrator) Sources() ([]chat.Source, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sources, o.sourcesOpen
}

// StartSession activates a session. With existingID it fetches that session's
// history; otherwise it creates a fresh session. Caller intent is recorded
// before the network call resolves, so a StartSession for a different target
// issued concurrently supersedes this one — the stale response is discarded at
// resolution time.
func (o *Orchestrator) StartSession(ctx context.Context, existingID string) error {
	o.mu.Lock()
	o.startGen++
	gen := o.startGen
	o.sessionID = existingID
	// The previous session's store is dropped at switch time, not when the
	// fetch resolves; switching also closes the sources panel.
	o.store = nil
	o.sendInFlight = false
	o.clearSourcesLocked()
	o.mu.Unlock()

	if existingID == "" {
		sessionID, err := o.api.CreateSession(ctx)

		o.mu.Lock()
		if gen != o.startGen {
			o.mu.Unlock()
			return nil // superseded by a newer StartSession
		}
		if err != nil {
			o.mu.Unlock()
			return err
		}
		o.sessionID = sessionID
		o.activateLocked(sessionID, nil)
		o.mu.Unlock()

		o.logger.Info("session created", "session_id", sessionID)
		return o.channel.Bind(ctx, sessionID)
	}

	msgs, err := o.api.History(ctx, existingID)

	o.mu.Lock()
	if gen != o.startGen || o.sessionID != existingID {
		o.mu.Unlock()
		o.logger.Debug("discarding stale history response", "session_id", existingID)
		return nil
	}
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.activateLocked(existingID, msgs)
	o.mu.Unlock()

	o.logger.Info("session resumed",
		"session_id", existingID,
		"messages", len(msgs))
	return o.channel.Bind(ctx, existingID)
}

// activateLocked installs a fresh store for the session and derives the
// sources flag from the last assistant message. Must be called with mu held.
func (o *Orchestrator) activateLocked(sessionID string, msgs []chat.Message) {
	store := msgstore.New(sessionID)
	store.OnChange(o.notifyChange)
	o.store = store
	o.sendInFlight = false

	o.sources = nil
	o.sourcesOpen = false
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant {
			if len(msgs[i].Sources) > 0 {
				o.setSourcesLocked(msgs[i].Sources)
			}
			break
		}
	}

	if len(msgs) > 0 {
		store.Reset(sessionID, msgs)
	} else {
		o.notifyChange(nil)
	}
}

// Send submits user text. The user message is appended optimistically with a
// locally-assigned id and removed again if the call fails. The response's
// sources update the panel eagerly; the assistant reply itself arrives only
// via the push channel.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	o.mu.Lock()
	if o.sessionID == "" || o.store == nil {
		o.mu.Unlock()
		return ErrNoActiveSession
	}
	if o.sendInFlight {
		o.mu.Unlock()
		return ErrSendInFlight
	}
	o.sendInFlight = true
	sessionID := o.sessionID
	store := o.store
	o.mu.Unlock()

	msg := chat.Message{
		ID:        uuid.New().String(),
		Role:      chat.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
	store.Append(msg)

	sources, err := o.api.SendMessage(ctx, sessionID, text)

	o.mu.Lock()
	if o.sessionID == sessionID {
		o.sendInFlight = false
	}
	if err != nil {
		o.mu.Unlock()
		// Roll back the optimistic insert on the store it went into.
		store.Remove(msg.ID)
		return fmt.Errorf("send failed: %w", err)
	}
	if o.sessionID == sessionID && len(sources) > 0 {
		o.setSourcesLocked(sources)
	}
	o.mu.Unlock()
	return nil
}

// OnMessageArrived applies a push-delivered message. Driven by the session
// channel; dedup in the store makes a duplicate delivery harmless.
func (o *Orchestrator) OnMessageArrived(msg chat.Message) {
	o.mu.Lock()
	store := o.store
	if store == nil {
		o.mu.Unlock()
		return
	}
	// An assistant turn with citations opens the sources panel; a sourceless
	// turn never closes it.
	if msg.Role == chat.RoleAssistant && len(msg.Sources) > 0 {
		o.setSourcesLocked(msg.Sources)
	}
	o.mu.Unlock()

	store.Append(msg)
}

// OnCleared handles a session_cleared push event, e.g. another client wiped
// the shared session.
func (o *Orchestrator) OnCleared() {
	o.mu.Lock()
	store := o.store
	sessionID := o.sessionID
	o.clearSourcesLocked()
	o.mu.Unlock()

	if store != nil {
		store.Reset(sessionID, nil)
	}
	o.logger.Info("history cleared remotely", "session_id", sessionID)
}

// ClearHistory wipes the active session's history. The local reset does not
// wait for the push confirmation; a second clear with nothing left to clear
// is a no-op.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	o.mu.Lock()
	sessionID := o.sessionID
	o.mu.Unlock()
	if sessionID == "" {
		return ErrNoActiveSession
	}

	if err := o.api.ClearHistory(ctx, sessionID); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	o.mu.Lock()
	store := o.store
	if o.sessionID == sessionID {
		o.clearSourcesLocked()
	}
	o.mu.Unlock()

	if store != nil {
		store.Reset(sessionID, nil)
	}
	return nil
}

// Stop deactivates the engine: unbinds the session and drops the store.
func (o *Orchestrator) Stop() {
	o.channel.Unbind()
	o.mu.Lock()
	o.startGen++
	o.sessionID = ""
	o.store = nil
	o.clearSourcesLocked()
	o.mu.Unlock()
}

// setSourcesLocked opens the sources panel with the given sources.
// Must be called with mu held.
func (o *Orchestrator) setSourcesLocked(sources []chat.Source) {
	o.sources = sources
	o.sourcesOpen = true
	o.notifySources(sources, true)
}

// clearSourcesLocked closes the sources panel. Must be called with mu held.
func (o *Orchestrator) clearSourcesLocked() {
	o.sources = nil
	o.sourcesOpen = false
	o.notifySources(nil, false)
}

func (o *Orchestrator) notifySources(sources []chat.Source, open bool) {
	o.cbMu.Lock()
	fn := o.onSources
	o.cbMu.Unlock()
	if fn != nil {
		fn(sources, open)
	}
}

// notifyChange forwards store change notifications to the registered observer.
func (o *Orchestrator) notifyChange(msgs []chat.Message) {
	o.cbMu.Lock()
	fn := o.onChange
	o.cbMu.Unlock()
	if fn != nil {
		fn(msgs)
	}
}
