// Package client is the outbound half of the mesh: it signs messages,
// posts them to peers, and redeems invite tokens against seed nodes.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentmesh/internal/wire"
)

// RequestError is a non-2xx answer from a peer.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("peer answered %d: %s", e.Status, e.Body)
}

// Ack is the peer's acknowledgement of an accepted message.
type Ack struct {
	Delivered bool   `json:"delivered"`
	Received  bool   `json:"received"`
	Resolved  bool   `json:"resolved"`
	MessageID string `json:"messageId"`
}

// Client posts authenticated messages on behalf of one agent.
type Client struct {
	httpc  *http.Client
	secret []byte
	bearer string
	from   string
	log    *zap.Logger
}

func New(from string, secret []byte, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		httpc:  &http.Client{Timeout: 30 * time.Second},
		secret: secret,
		bearer: base64.StdEncoding.EncodeToString(secret),
		from:   from,
		log:    log,
	}
}

// NewMessage builds and signs a message from this agent. Fresh id,
// nonce, and timestamp every call; the MAC is computed last.
func (c *Client) NewMessage(to, typ, payload, replyTo string) *wire.Message {
	m := &wire.Message{
		ID:        uuid.NewString(),
		From:      c.from,
		To:        to,
		Type:      typ,
		Payload:   payload,
		ReplyTo:   replyTo,
		Timestamp: time.Now().UnixMilli(),
		Nonce:     uuid.NewString(),
	}
	m.MAC = wire.SignMAC(c.secret, m)
	return m
}

// Post sends m to path on the peer at baseURL.
func (c *Client) Post(ctx context.Context, baseURL, path string, m *wire.Message) (*Ack, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	var ack Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("parse ack: %w", err)
	}
	return &ack, nil
}

// Deliver fire-and-forgets payload to the peer at baseURL.
func (c *Client) Deliver(ctx context.Context, baseURL, to, payload string) (*Ack, error) {
	m := c.NewMessage(to, wire.TypeDeliver, payload, "")
	ack, err := c.Post(ctx, baseURL, "/mesh/msg", m)
	if err != nil {
		return nil, err
	}
	c.log.Debug("delivered", zap.String("id", m.ID), zap.String("to", to))
	return ack, nil
}

// Reply answers a previously received ask identified by askID.
func (c *Client) Reply(ctx context.Context, baseURL, to, askID, payload string) (*Ack, error) {
	m := c.NewMessage(to, wire.TypeReply, payload, askID)
	return c.Post(ctx, baseURL, "/mesh/response", m)
}

// Health probes a peer's unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/mesh/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}
