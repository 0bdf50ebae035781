// ABOUTME: HTTP request/response client for the ragline backend API.
// ABOUTME: Sessions, history, message send, and health checks over JSON.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/raglinehq/ragline/internal/chat"
)

// ErrRequestTimeout indicates a request/response call exceeded the client's
// per-call deadline. Distinct from transport-level connection errors.
var ErrRequestTimeout = errors.New("request timed out")

// RequestError is an HTTP-level failure returned by the backend.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s", e.Status, e.Message)
}

// Client issues synchronous request/response calls against the backend.
// Every call carries a fixed timeout; the engine never retries these itself.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Client for the backend at base (e.g. "http://localhost:5000").
// Pass nil logger for default.
func New(base string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:    base,
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger.With("component", "api"),
	}
}

// CreateSession creates a new conversation session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/session", nil, &out); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("creating session: response missing sessionId")
	}
	return out.SessionID, nil
}

// ListSessions returns summaries of all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]chat.SessionSummary, error) {
	var out struct {
		Sessions []chat.SessionSummary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/session", nil, &out); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return out.Sessions, nil
}

// GetSession returns the summary for one session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*chat.SessionSummary, error) {
	var out chat.SessionSummary
	if err := c.do(ctx, http.MethodGet, "/api/session/"+sessionID, nil, &out); err != nil {
		return nil, fmt.Errorf("getting session %s: %w", sessionID, err)
	}
	return &out, nil
}

// DeleteSession removes a session and its history.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/session/"+sessionID, nil, nil); err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	return nil
}

// History fetches the full message history for a session.
func (c *Client) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var out struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/history/"+sessionID, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", sessionID, err)
	}
	return out.Messages, nil
}

// SendMessage submits a user message. The response carries only the cited
// sources for the upcoming assistant reply; the reply text itself is
// delivered over the push channel.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) ([]chat.Source, error) {
	in := struct {
		SessionID string `json:"sessionId"`
		Message   string `json:"message"`
	}{SessionID: sessionID, Message: text}

	var out struct {
		Sources []chat.Source `json:"sources"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/message", in, &out); err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	return out.Sources, nil
}

// ClearHistory wipes a session's message history.
func (c *Client) ClearHistory(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/chat/history/"+sessionID, nil, nil); err != nil {
		return fmt.Errorf("clearing history for %s: %w", sessionID, err)
	}
	return nil
}

// do issues one JSON request with the client's timeout applied.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("api request", "method", method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrRequestTimeout
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &RequestError{
			Status:  resp.StatusCode,
			Message: readErrorMessage(resp.Body),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// readErrorMessage extracts the backend's error string from a failure body,
// falling back to the raw body text.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return string(bytes.TrimSpace(data))
}
