// Package sdk is a small Go client for one replica's eight client RPCs;
// no package in this repository imports it. Grounded on the teacher's
// internal/client.Client: one struct wrapping a base URL and an
// *http.Client, one method per remote call, errors surfaced as APIError.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to one replica's client-facing port.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. A zero timeout defaults to 10s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// Reply mirrors the common envelope internal/replica.Reply is marshaled
// into: status, optional description, timestamp, clock, plus whatever
// extra fields a given service adds.
type Reply struct {
	Status      string                 `json:"status"`
	Description string                 `json:"description,omitempty"`
	Timestamp   float64                `json:"timestamp"`
	Clock       uint64                 `json:"clock"`
	Extra       map[string]interface{} `json:"-"`
}

// UnmarshalJSON captures known envelope fields into Reply and everything
// else into Extra, so callers can read e.g. reply.Extra["users"] without
// a bespoke response type per service.
func (r *Reply) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["status"].(string); ok {
		r.Status = v
	}
	if v, ok := raw["description"].(string); ok {
		r.Description = v
	}
	if v, ok := raw["timestamp"].(float64); ok {
		r.Timestamp = v
	}
	if v, ok := raw["clock"].(float64); ok {
		r.Clock = uint64(v)
	}
	r.Extra = raw
	return nil
}

// APIError carries the HTTP status and decoded description from a
// non-2xx reply.
type APIError struct {
	Status      int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Description)
}

func (c *Client) call(ctx context.Context, path string, body map[string]interface{}) (Reply, error) {
	var reply Reply
	data, err := json.Marshal(body)
	if err != nil {
		return reply, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return reply, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reply, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return reply, fmt.Errorf("%s: decode: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return reply, &APIError{Status: resp.StatusCode, Description: reply.Description}
	}
	return reply, nil
}

// Login calls the login RPC.
func (c *Client) Login(ctx context.Context, user string) (Reply, error) {
	return c.call(ctx, "/v1/login", map[string]interface{}{"user": user})
}

// Users calls the users RPC.
func (c *Client) Users(ctx context.Context) (Reply, error) {
	return c.call(ctx, "/v1/users", map[string]interface{}{})
}

// Channel calls the channel RPC.
func (c *Client) Channel(ctx context.Context, channel string) (Reply, error) {
	return c.call(ctx, "/v1/channel", map[string]interface{}{"channel": channel})
}

// Channels calls the channels RPC.
func (c *Client) Channels(ctx context.Context) (Reply, error) {
	return c.call(ctx, "/v1/channels", map[string]interface{}{})
}

// Publish calls the publish RPC.
func (c *Client) Publish(ctx context.Context, user, channel, message string) (Reply, error) {
	return c.call(ctx, "/v1/publish", map[string]interface{}{"user": user, "channel": channel, "message": message})
}

// Message calls the message (private) RPC.
func (c *Client) Message(ctx context.Context, src, dst, message string) (Reply, error) {
	return c.call(ctx, "/v1/message", map[string]interface{}{"src": src, "dst": dst, "message": message})
}

// GetHistory calls the get_history RPC.
func (c *Client) GetHistory(ctx context.Context, channel string, limit int) (Reply, error) {
	return c.call(ctx, "/v1/get_history", map[string]interface{}{"channel": channel, "limit": limit})
}

// GetPrivateHistory calls the get_private_history RPC.
func (c *Client) GetPrivateHistory(ctx context.Context, user, peer string, limit int) (Reply, error) {
	return c.call(ctx, "/v1/get_private_history", map[string]interface{}{"user": user, "peer": peer, "limit": limit})
}
