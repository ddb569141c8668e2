// Package manifest manages the signed, versioned snapshot of mesh state:
// transport secret, peer roster, security parameters, and revocations.
// The durable store keeps only the latest envelope and never regresses.
package manifest

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"agentmesh/internal/envelope"
	"agentmesh/internal/fsutil"
	"agentmesh/internal/wire"
)

const SchemaVersion = 1

var (
	ErrRegression   = errors.New("manifest: version regression")
	ErrMeshMismatch = errors.New("manifest: mesh name mismatch")
	ErrStale        = errors.New("manifest: version not newer than stored")
)

// Transport carries the shared symmetric secret, base64-encoded.
type Transport struct {
	MeshKey string `json:"meshKey"`
}

// Revocations lists invite jtis and agent names that must be refused.
type Revocations struct {
	InviteJTI []string `json:"inviteJti"`
	Agents    []string `json:"agents"`
}

// Payload is the signed body of a manifest envelope.
type Payload struct {
	SchemaVersion int                  `json:"schemaVersion"`
	Mesh          string               `json:"mesh"`
	Version       int                  `json:"version"`
	IssuedAt      string               `json:"issuedAt"` // ISO-8601
	Security      wire.Security        `json:"security"`
	Transport     Transport            `json:"transport"`
	Agents        map[string]wire.Peer `json:"agents"`
	Revocations   Revocations          `json:"revocations"`
}

// DecodePayload parses the payload of a locally stored or already
// verified envelope.
func DecodePayload(env *envelope.Envelope) (*Payload, error) {
	b, err := env.PayloadBytes()
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("manifest: decode payload: %w", err)
	}
	return &p, nil
}

// Build signs p with the root private key. An empty kid derives a fresh
// "root-YYYY-MM-DD" key id; rebuilds pass the previous envelope's kid.
func Build(priv ed25519.PrivateKey, p *Payload, kid string) (*envelope.Envelope, error) {
	if kid == "" {
		kid = "root-" + time.Now().UTC().Format("2006-01-02")
	}
	p.SchemaVersion = SchemaVersion
	if p.IssuedAt == "" {
		p.IssuedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if p.Agents == nil {
		p.Agents = map[string]wire.Peer{}
	}
	return envelope.Sign(priv, p, kid)
}

// Store is the durable home of the latest signed manifest.
type Store struct {
	path string
	log  *zap.Logger
}

func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// Load returns the stored envelope and its decoded payload, or
// (nil, nil, nil) when no manifest exists yet.
func (s *Store) Load() (*envelope.Envelope, *Payload, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("manifest: read: %w", err)
	}
	var env envelope.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, nil, fmt.Errorf("manifest: parse: %w", err)
	}
	p, err := DecodePayload(&env)
	if err != nil {
		return nil, nil, err
	}
	return &env, p, nil
}

// CurrentVersion is 0 when no manifest is stored.
func (s *Store) CurrentVersion() int {
	_, p, err := s.Load()
	if err != nil || p == nil {
		return 0
	}
	return p.Version
}

// NextVersion is the version a rebuild must carry.
func (s *Store) NextVersion() int {
	return s.CurrentVersion() + 1
}

// Save atomically persists env. Saving a version at or below the stored
// one is refused, so the store never regresses.
func (s *Store) Save(env *envelope.Envelope) error {
	p, err := DecodePayload(env)
	if err != nil {
		return err
	}
	if cur := s.CurrentVersion(); p.Version <= cur && cur > 0 {
		return fmt.Errorf("%w: have %d, got %d", ErrRegression, cur, p.Version)
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, b, 0o600); err != nil {
		return fmt.Errorf("manifest: write: %w", err)
	}
	s.log.Debug("manifest saved", zap.Int("version", p.Version), zap.String("kid", env.Kid))
	return nil
}

// Update loads the current manifest, applies mutate to a copy of its
// payload, bumps the version, re-signs with the previous kid, and saves.
// Requires an existing manifest.
func (s *Store) Update(priv ed25519.PrivateKey, mutate func(*Payload)) (*envelope.Envelope, error) {
	cur, p, err := s.Load()
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, errors.New("manifest: no manifest to update")
	}
	next := *p
	next.Agents = make(map[string]wire.Peer, len(p.Agents))
	for k, v := range p.Agents {
		next.Agents[k] = v
	}
	if mutate != nil {
		mutate(&next)
	}
	next.Version = p.Version + 1
	next.IssuedAt = time.Now().UTC().Format(time.RFC3339)

	env, err := Build(priv, &next, cur.Kid)
	if err != nil {
		return nil, err
	}
	if err := s.Save(env); err != nil {
		return nil, err
	}
	return env, nil
}

// Adopt verifies env against the pinned root key and local mesh name and
// saves it when its version is strictly newer than the stored one. Used
// by the manifest sync loop and the join client.
func (s *Store) Adopt(root ed25519.PublicKey, meshName string, env *envelope.Envelope) (*Payload, error) {
	payload, err := envelope.Verify(root, env)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("manifest: decode payload: %w", err)
	}
	if p.Mesh != meshName {
		return nil, fmt.Errorf("%w: %q", ErrMeshMismatch, p.Mesh)
	}
	if cur := s.CurrentVersion(); p.Version <= cur {
		return nil, fmt.Errorf("%w: have %d, got %d", ErrStale, cur, p.Version)
	}
	if err := s.Save(env); err != nil {
		return nil, err
	}
	s.log.Info("adopted manifest", zap.String("mesh", p.Mesh), zap.Int("version", p.Version))
	return &p, nil
}
