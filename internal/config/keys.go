package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"agentmesh/internal/fsutil"
)

// MeshKeySize is the transport secret length in bytes.
const MeshKeySize = 32

// GenerateMeshKey returns a fresh 32-byte transport secret.
func GenerateMeshKey() ([]byte, error) {
	key := make([]byte, MeshKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate mesh key: %w", err)
	}
	return key, nil
}

// SaveMeshKey writes the secret base64-encoded with owner-only mode.
func SaveMeshKey(path string, key []byte) error {
	if len(key) != MeshKeySize {
		return fmt.Errorf("mesh key must be %d bytes, got %d", MeshKeySize, len(key))
	}
	data := base64.StdEncoding.EncodeToString(key) + "\n"
	return fsutil.WriteFileAtomic(path, []byte(data), 0o600)
}

// LoadMeshKey reads and decodes the transport secret.
func LoadMeshKey(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mesh key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("mesh key: decode: %w", err)
	}
	if len(key) != MeshKeySize {
		return nil, fmt.Errorf("mesh key: want %d bytes, got %d", MeshKeySize, len(key))
	}
	return key, nil
}

// GenerateKeypair returns a fresh Ed25519 keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}
	return pub, priv, nil
}

// SavePrivateKey writes priv as a PKCS#8 PEM with owner-only mode.
func SavePrivateKey(path string, priv ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return fsutil.WriteFileAtomic(path, block, 0o600)
}

// LoadPrivateKey reads a PKCS#8 PEM Ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("private key %s: no PEM block", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("private key %s: %w", path, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key %s: not Ed25519 (%T)", path, key)
	}
	return priv, nil
}

// SavePublicKey writes pub as a PKIX PEM.
func SavePublicKey(path string, pub ed25519.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return fsutil.WriteFileAtomic(path, block, 0o644)
}

// LoadPublicKey reads a PKIX PEM Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("public key %s: no PEM block", path)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", path, err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key %s: not Ed25519 (%T)", path, key)
	}
	return pub, nil
}
