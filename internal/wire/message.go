// Package wire defines the authenticated message format exchanged
// between agents, the shared-secret MAC over it, and the peer roster
// types embedded in configs and manifests.
package wire

import (
	"errors"
	"fmt"
)

// Message types on the wire.
const (
	TypeDeliver = "deliver"
	TypeAsk     = "ask"
	TypeReply   = "reply"
)

// Message is the wire form of one mesh message. The MAC covers
// (id, type, payload, timestamp, nonce).
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Type      string `json:"type"`
	Payload   string `json:"payload"`
	ReplyTo   string `json:"replyTo,omitempty"`
	Timestamp int64  `json:"timestamp"` // ms since epoch
	Nonce     string `json:"nonce"`
	MAC       string `json:"mac"` // lowercase hex
}

// Validate checks the fields the auth pipeline requires before any
// cryptographic work happens.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.New("missing id")
	}
	if m.Nonce == "" {
		return errors.New("missing nonce")
	}
	if m.Timestamp == 0 {
		return errors.New("missing timestamp")
	}
	if m.MAC == "" {
		return errors.New("missing mac")
	}
	switch m.Type {
	case TypeDeliver, TypeAsk, TypeReply:
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Type == TypeReply && m.ReplyTo == "" {
		return errors.New("reply requires replyTo")
	}
	return nil
}

// Incoming is a message after acceptance, as the queue consumer sees it.
// Replies never reach the queue; they are consumed by the ask registry.
type Incoming struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"` // deliver or ask
	ReplyTo   string `json:"replyTo,omitempty"`
}

// Peer is one roster entry in a mesh. Names are unique per mesh.
type Peer struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Security defaults applied when a field is unset.
const (
	DefaultReplayWindowSeconds = 60
	DefaultMaxMessageSizeBytes = 1 << 20
)

// Security carries the mesh-wide validation parameters distributed in
// the manifest and mirrored in each host's config.
type Security struct {
	ReplayWindowSeconds int   `json:"replayWindowSeconds"`
	MaxMessageSizeBytes int64 `json:"maxMessageSizeBytes"`
	StrictInvites       bool  `json:"strictInvites,omitempty"`
}

// WithDefaults fills zero fields with the mesh defaults.
func (s Security) WithDefaults() Security {
	if s.ReplayWindowSeconds <= 0 {
		s.ReplayWindowSeconds = DefaultReplayWindowSeconds
	}
	if s.MaxMessageSizeBytes <= 0 {
		s.MaxMessageSizeBytes = DefaultMaxMessageSizeBytes
	}
	return s
}
