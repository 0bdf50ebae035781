// ABOUTME: Ordered, deduplicated message record for the active conversation.
// ABOUTME: Single source of truth for display; change notifications carry snapshots.

package msgstore

import (
	"sync"

	"github.com/raglinehq/ragline/internal/chat"
)

// Store holds the active session's messages in arrival-acceptance order with
// id-based deduplication. One Store exists per active session; switching
// sessions replaces the Store rather than mutating it.
//
// Ordering follows acceptance, not message timestamps: clock skew between
// optimistic client inserts and server timestamps is tolerated, not corrected.
type Store struct {
	mu        sync.Mutex
	sessionID string
	messages  []chat.Message
	index     map[string]struct{}
	onChange  func([]chat.Message)
}

// New creates an empty Store for the given session.
func New(sessionID string) *Store {
	return &Store{
		sessionID: sessionID,
		index:     make(map[string]struct{}),
	}
}

// SessionID returns the session this store belongs to.
func (s *Store) SessionID() string {
	return s.sessionID
}

// OnChange registers a notification fired after every mutation that altered
// content, carrying the resulting snapshot. The callback runs outside the
// store's lock.
func (s *Store) OnChange(fn func([]chat.Message)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Reset replaces the contents wholesale. Rejects (returns false) when called
// for a session other than the store's own — this guards against
// late-arriving history responses after a session switch. Duplicate ids in
// the input keep their first occurrence.
func (s *Store) Reset(sessionID string, msgs []chat.Message) bool {
	s.mu.Lock()
	if sessionID != s.sessionID {
		s.mu.Unlock()
		return false
	}

	s.messages = make([]chat.Message, 0, len(msgs))
	s.index = make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if _, seen := s.index[msg.ID]; seen {
			continue
		}
		s.index[msg.ID] = struct{}{}
		s.messages = append(s.messages, msg)
	}

	s.notifyLocked()
	return true
}

// Append inserts the message at the end iff no existing entry shares its id.
// Returns whether an insertion occurred; duplicates are a no-op.
func (s *Store) Append(msg chat.Message) bool {
	s.mu.Lock()
	if _, seen := s.index[msg.ID]; seen {
		s.mu.Unlock()
		return false
	}
	s.index[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)

	s.notifyLocked()
	return true
}

// Remove deletes the entry with the given id if present. Used to roll back an
// optimistic insert on send failure. Returns whether a removal occurred.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if _, seen := s.index[id]; !seen {
		s.mu.Unlock()
		return false
	}
	delete(s.index, id)
	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}

	s.notifyLocked()
	return true
}

// Snapshot returns a copy of the current ordered sequence. Callers may not
// mutate stored messages through it.
func (s *Store) Snapshot() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *Store) snapshotLocked() []chat.Message {
	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// notifyLocked releases the lock and fires the change notification with a
// fresh snapshot. Must be called with mu held; returns with mu released.
func (s *Store) notifyLocked() {
	fn := s.onChange
	var snap []chat.Message
	if fn != nil {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}
