// Package invite encodes and verifies the short-lived capability tokens
// that authorize one host to join a mesh. A token is two unpadded
// base64url parts joined by a dot: canonical JSON payload bytes, and a
// detached Ed25519 signature over those bytes.
package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentmesh/internal/canonicaljson"
)

const (
	SchemaVersion = 1

	DefaultTTL = 15 * time.Minute
	MaxTTL     = time.Hour

	// ClockSkew is tolerated on both sides of nbf and exp.
	ClockSkew = 60 * time.Second
)

var (
	ErrMalformed   = errors.New("invite: malformed token")
	ErrSignature   = errors.New("invite: signature verification failed")
	ErrPayload     = errors.New("invite: invalid payload")
	ErrExpired     = errors.New("invite: token expired")
	ErrNotYetValid = errors.New("invite: token not yet valid")
)

// Payload is the signed body of an invite token. Times are ms epoch.
type Payload struct {
	SchemaVersion      int      `json:"schemaVersion"`
	Mesh               string   `json:"mesh"`
	Agent              string   `json:"agent"`
	NodePubKey         string   `json:"nodePubKey"` // base64 of the host enrollment public key
	JTI                string   `json:"jti"`
	IAT                int64    `json:"iat"`
	NBF                int64    `json:"nbf"`
	EXP                int64    `json:"exp"`
	MinManifestVersion int      `json:"minManifestVersion,omitempty"`
	SeedHints          []string `json:"seedHints,omitempty"`
}

// New builds an invite payload for agent on a host identified by
// nodePubKey. A zero ttl uses DefaultTTL; anything above MaxTTL is
// capped.
func New(mesh, agent, nodePubKey string, ttl time.Duration) *Payload {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	now := time.Now().UnixMilli()
	return &Payload{
		SchemaVersion: SchemaVersion,
		Mesh:          mesh,
		Agent:         agent,
		NodePubKey:    nodePubKey,
		JTI:           uuid.NewString(),
		IAT:           now,
		NBF:           now,
		EXP:           now + ttl.Milliseconds(),
	}
}

// Encode signs p with the root private key and returns the token string.
func Encode(priv ed25519.PrivateKey, p *Payload) (string, error) {
	b, err := canonicaljson.Marshal(p)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, b)
	return base64.RawURLEncoding.EncodeToString(b) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Decode verifies the token under the pinned root public key and parses
// its payload. The three failure classes are distinguishable by errors.Is.
func Decode(pub ed25519.PublicKey, token string) (*Payload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, ErrMalformed
	}
	body, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: sig: %v", ErrMalformed, err)
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, body, sig) {
		return nil, ErrSignature
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	if p.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: schemaVersion %d", ErrPayload, p.SchemaVersion)
	}
	if p.Mesh == "" || p.Agent == "" || p.NodePubKey == "" || p.JTI == "" {
		return nil, fmt.Errorf("%w: missing required field", ErrPayload)
	}
	if p.IAT == 0 || p.NBF == 0 || p.EXP == 0 {
		return nil, fmt.Errorf("%w: missing validity window", ErrPayload)
	}
	return &p, nil
}

// ValidAt checks the nbf/exp window at now with ClockSkew tolerance on
// both edges.
func (p *Payload) ValidAt(now time.Time) error {
	ms := now.UnixMilli()
	skew := ClockSkew.Milliseconds()
	if ms < p.NBF-skew {
		return ErrNotYetValid
	}
	if ms > p.EXP+skew {
		return ErrExpired
	}
	return nil
}

// ConsumptionStore answers whether a jti has been used and records use.
// The default implementation never reports consumed, matching the
// non-strict bootstrap mode.
type ConsumptionStore interface {
	Consumed(jti string) bool
	Consume(jti string)
}

// NopStore is the non-strict default: nothing is ever consumed.
type NopStore struct{}

func (NopStore) Consumed(string) bool { return false }
func (NopStore) Consume(string)       {}

// MemoryStore tracks consumed jtis for the life of the process.
type MemoryStore struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{used: make(map[string]struct{})}
}

func (s *MemoryStore) Consumed(jti string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[jti]
	return ok
}

func (s *MemoryStore) Consume(jti string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[jti] = struct{}{}
}
