// ABOUTME: Push-client registry fanning frames out to websocket and poll clients.
// ABOUTME: Clients subscribe to one session at a time via join_session.

package main

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const clientBufferSize = 64

// pushClient is one connected push-channel consumer, websocket or polling.
type pushClient struct {
	id        string
	sessionID string
	frames    chan []byte
}

// hub tracks push clients and routes frames by session subscription.
type hub struct {
	mu      sync.Mutex
	clients map[string]*pushClient
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients: make(map[string]*pushClient),
		logger:  logger.With("component", "hub"),
	}
}

func (h *hub) register() *pushClient {
	c := &pushClient{
		id:     uuid.New().String(),
		frames: make(chan []byte, clientBufferSize),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Debug("push client registered", "client_id", c.id)
	return c
}

func (h *hub) remove(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		close(c.frames)
		h.logger.Debug("push client removed", "client_id", clientID)
	}
}

func (h *hub) get(clientID string) (*pushClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	return c, ok
}

// join subscribes the client to a session, superseding any prior subscription.
func (h *hub) join(clientID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.sessionID = sessionID
		h.logger.Debug("push client joined session",
			"client_id", clientID,
			"session_id", sessionID)
	}
}

// broadcast sends a frame to every client subscribed to the session.
// Non-blocking: frames are dropped for clients whose buffers are full. The
// lock is held across the sends so a concurrent remove cannot close a
// channel mid-send.
func (h *hub) broadcast(sessionID string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		if c.sessionID != sessionID {
			continue
		}
		select {
		case c.frames <- frame:
		default:
			h.logger.Debug("dropped frame for slow client", "client_id", c.id)
		}
	}
}
