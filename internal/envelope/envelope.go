// Package envelope signs and verifies canonical JSON payloads with the
// mesh's Ed25519 trust root. Verification failures are values; nothing
// here panics on attacker-controlled input.
package envelope

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"agentmesh/internal/canonicaljson"
)

// Alg is the only signature algorithm the mesh accepts.
const Alg = "Ed25519"

var (
	ErrMalformed = errors.New("envelope: malformed")
	ErrAlgorithm = errors.New("envelope: unsupported algorithm")
	ErrSignature = errors.New("envelope: signature verification failed")
)

// Envelope wraps canonical JSON payload bytes with a detached signature.
// Payload and Sig are unpadded base64url.
type Envelope struct {
	Alg     string `json:"alg"`
	Kid     string `json:"kid"`
	Payload string `json:"payload"`
	Sig     string `json:"sig"`
}

// Sign canonicalizes payload and signs the canonical bytes.
func Sign(priv ed25519.PrivateKey, payload any, kid string) (*Envelope, error) {
	b, err := canonicaljson.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(priv, b)
	return &Envelope{
		Alg:     Alg,
		Kid:     kid,
		Payload: base64.RawURLEncoding.EncodeToString(b),
		Sig:     base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks the envelope under pub and returns the decoded payload
// bytes. All failure paths return one of the typed errors above.
func Verify(pub ed25519.PublicKey, env *Envelope) ([]byte, error) {
	if env == nil || env.Payload == "" || env.Sig == "" {
		return nil, ErrMalformed
	}
	if env.Alg != Alg {
		return nil, fmt.Errorf("%w: %q", ErrAlgorithm, env.Alg)
	}
	payload, err := base64.RawURLEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(env.Sig)
	if err != nil {
		return nil, fmt.Errorf("%w: sig: %v", ErrMalformed, err)
	}
	if len(sig) != ed25519.SignatureSize || !ed25519.Verify(pub, payload, sig) {
		return nil, ErrSignature
	}
	return payload, nil
}

// PayloadBytes decodes the payload field without verifying. Use only on
// envelopes from local durable state.
func (e *Envelope) PayloadBytes() ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	return b, nil
}

// PayloadHash is "sha256:<hex>" over the base64 payload field bytes, as
// served by the bootstrap head endpoint.
func (e *Envelope) PayloadHash() string {
	sum := sha256.Sum256([]byte(e.Payload))
	return "sha256:" + hex.EncodeToString(sum[:])
}
