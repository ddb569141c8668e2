package config

import (
	"encoding/json"
	"fmt"
	"os"

	"agentmesh/internal/fsutil"
	"agentmesh/internal/wire"
)

// TLS points at PEM material for the listener. When present, all
// surfaces serve HTTPS.
type TLS struct {
	CertFile string `json:"certFile"`
	KeyFile  string `json:"keyFile"`
}

// Config is the per-host view of a mesh: the roster, security
// parameters, and optional TLS. The authoritative copy travels in the
// signed manifest; this file is the working state.
type Config struct {
	Mesh     string               `json:"mesh"`
	Agents   map[string]wire.Peer `json:"agents"`
	Security wire.Security        `json:"security"`
	TLS      *TLS                 `json:"tls,omitempty"`
}

// Load reads and validates the config document.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Mesh == "" {
		return nil, fmt.Errorf("config: %s: missing mesh name", path)
	}
	if c.Agents == nil {
		c.Agents = map[string]wire.Peer{}
	}
	c.Security = c.Security.WithDefaults()
	return &c, nil
}

// Save atomically persists the config document.
func Save(path string, c *Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}
