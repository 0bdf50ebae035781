// ABOUTME: Health-check calls against the backend's service endpoints.
// ABOUTME: Individual probes plus an aggregated status for the CLI.

package api

import (
	"context"
	"net/http"
)

// Status aggregates the backend's health probes.
type Status struct {
	API     bool `json:"api"`
	Chat    bool `json:"chat"`
	Session bool `json:"session"`
}

// Healthy reports whether every probe passed.
func (s Status) Healthy() bool {
	return s.API && s.Chat && s.Session
}

// Health checks the top-level service health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

// ChatHealth checks the chat subsystem.
func (c *Client) ChatHealth(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/chat/health", nil, nil)
}

// SessionHealth checks the session subsystem.
func (c *Client) SessionHealth(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/session/health/check", nil, nil)
}

// GetStatus probes every subsystem and reports which are up. Probe failures
// are folded into the status rather than returned.
func (c *Client) GetStatus(ctx context.Context) Status {
	return Status{
		API:     c.Health(ctx) == nil,
		Chat:    c.ChatHealth(ctx) == nil,
		Session: c.SessionHealth(ctx) == nil,
	}
}
