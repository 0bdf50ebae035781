// ABOUTME: HTTP handlers implementing the backend wire contract in memory.
// ABOUTME: Sessions, history, echoed assistant replies, and push delivery.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/raglinehq/ragline/internal/chat"
	"github.com/raglinehq/ragline/internal/wire"
)

// session is one in-memory conversation. Nothing survives a restart;
// persistence is deliberately out of scope for a test backend.
type session struct {
	ID        string
	Title     string
	Messages  []chat.Message
	UpdatedAt time.Time
}

type server struct {
	logger     *slog.Logger
	replyDelay time.Duration
	hub        *hub

	mu       sync.Mutex
	sessions map[string]*session
}

func newServer(logger *slog.Logger, replyDelay time.Duration) *server {
	return &server{
		logger:     logger,
		replyDelay: replyDelay,
		hub:        newHub(logger),
		sessions:   make(map[string]*session),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat/session", s.handleCreateSession)
	mux.HandleFunc("GET /api/session", s.handleListSessions)
	mux.HandleFunc("GET /api/session/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/session/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/chat/history/{id}", s.handleHistory)
	mux.HandleFunc("POST /api/chat/message", s.handleSendMessage)
	mux.HandleFunc("DELETE /api/chat/history/{id}", s.handleClearHistory)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/chat/health", s.handleHealth)
	mux.HandleFunc("GET /api/session/health/check", s.handleHealth)

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /api/push/poll", s.handlePollRegister)
	mux.HandleFunc("GET /api/push/poll/{id}", s.handlePoll)
	mux.HandleFunc("POST /api/push/poll/{id}/send", s.handlePollSend)
	mux.HandleFunc("DELETE /api/push/poll/{id}", s.handlePollClose)

	return mux
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := &session{
		ID:        uuid.New().String(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created", "session_id", sess.ID)
	writeJSON(w, map[string]string{"sessionId": sess.ID})
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	summaries := make([]chat.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		summaries = append(summaries, sess.summary())
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"sessions": summaries})
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessions[r.PathValue("id")]
	var summary chat.SessionSummary
	if ok {
		summary = sess.summary()
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, summary)
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessions[r.PathValue("id")]
	var msgs []chat.Message
	if ok {
		msgs = append(msgs, sess.Messages...)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, map[string]any{"messages": msgs})
}

func (s *server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	userMsg := chat.Message{
		ID:        uuid.New().String(),
		Role:      chat.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	sess, ok := s.sessions[req.SessionID]
	if ok {
		sess.Messages = append(sess.Messages, userMsg)
		if sess.Title == "" {
			sess.Title = truncate(req.Message, 40)
		}
		sess.UpdatedAt = time.Now()
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	sources := cannedSources()

	// The assistant reply is delivered over the push channel only; the send
	// response carries just the citations.
	go s.deliverReply(req.SessionID, req.Message, sources)

	writeJSON(w, map[string]any{"sources": sources})
}

// deliverReply appends and pushes the echoed assistant message after the
// configured delay.
func (s *server) deliverReply(sessionID, userText string, sources []chat.Source) {
	time.Sleep(s.replyDelay)

	reply := chat.Message{
		ID:        uuid.New().String(),
		Role:      chat.RoleAssistant,
		Content:   fmt.Sprintf("You said: %s", userText),
		Timestamp: time.Now(),
		Sources:   sources,
	}

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.Messages = append(sess.Messages, reply)
		sess.UpdatedAt = time.Now()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	frame, err := wire.EncodeNewMessage(sessionID, reply)
	if err != nil {
		s.logger.Error("failed to encode push frame", "error", err)
		return
	}
	s.hub.broadcast(sessionID, frame)
}

func (s *server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.Messages = nil
		sess.UpdatedAt = time.Now()
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if frame, err := wire.EncodeSessionCleared(id); err == nil {
		s.hub.broadcast(id, frame)
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "OK"})
}

func (s *server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	client := s.hub.register()
	defer s.hub.remove(client.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Writer: pump broadcast frames to the socket.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-client.frames:
				if !ok {
					return
				}
				if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Reader: the only client command is join_session.
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			c.Close(websocket.StatusNormalClosure, "")
			return
		}
		sessionID, err := wire.DecodeJoin(data)
		if err != nil {
			s.logger.Warn("ignoring invalid client frame", "error", err)
			continue
		}
		s.hub.join(client.id, sessionID)
	}
}

func (s *server) handlePollRegister(w http.ResponseWriter, r *http.Request) {
	client := s.hub.register()
	writeJSON(w, map[string]string{"clientId": client.id})
}

func (s *server) handlePoll(w http.ResponseWriter, r *http.Request) {
	client, ok := s.hub.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusGone, "unknown poll client")
		return
	}

	frames := make([]json.RawMessage, 0)
drain:
	for {
		select {
		case frame, ok := <-client.frames:
			if !ok {
				break drain
			}
			frames = append(frames, json.RawMessage(frame))
		default:
			break drain
		}
	}
	writeJSON(w, map[string]any{"frames": frames})
}

func (s *server) handlePollSend(w http.ResponseWriter, r *http.Request) {
	client, ok := s.hub.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusGone, "unknown poll client")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading frame")
		return
	}

	sessionID, err := wire.DecodeJoin(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid frame")
		return
	}
	s.hub.join(client.id, sessionID)
	writeJSON(w, map[string]bool{"success": true})
}

func (s *server) handlePollClose(w http.ResponseWriter, r *http.Request) {
	s.hub.remove(r.PathValue("id"))
	writeJSON(w, map[string]bool{"success": true})
}

func (sess *session) summary() chat.SessionSummary {
	return chat.SessionSummary{
		ID:           sess.ID,
		Title:        sess.Title,
		MessageCount: len(sess.Messages),
		UpdatedAt:    sess.UpdatedAt,
	}
}

func cannedSources() []chat.Source {
	published := time.Now().Add(-24 * time.Hour)
	return []chat.Source{
		{Title: "Example Reference", URL: "https://example.com/reference", PublishedAt: &published},
		{Title: "Example Guide", URL: "https://example.com/guide"},
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
