// Package config owns the on-disk layout of a mesh under the per-user
// state root, the config document, and the key material formats.
package config

import (
	"os"
	"path/filepath"
)

// Paths locates a mesh's files under a state root.
type Paths struct {
	Root string
	Mesh string
}

// DefaultRoot is <user config dir>/agentmesh, falling back to
// ~/.agentmesh when the platform dir cannot be determined.
func DefaultRoot() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "agentmesh")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentmesh"
	}
	return filepath.Join(home, ".agentmesh")
}

func (p Paths) Dir() string          { return filepath.Join(p.Root, p.Mesh) }
func (p Paths) ConfigFile() string   { return filepath.Join(p.Dir(), "config.json") }
func (p Paths) MeshKeyFile() string  { return filepath.Join(p.Dir(), "mesh.key") }
func (p Paths) RootPubFile() string  { return filepath.Join(p.Dir(), "root.pub") }
func (p Paths) ManifestFile() string { return filepath.Join(p.Dir(), "manifest.json") }
func (p Paths) NodeKeyFile() string  { return filepath.Join(p.Dir(), "node.key") }
func (p Paths) NodePubFile() string  { return filepath.Join(p.Dir(), "node.pub") }
func (p Paths) PIDFile() string      { return filepath.Join(p.Dir(), "daemon.pid") }

// QueueFile is the durable mirror for one agent's incoming queue.
func (p Paths) QueueFile(agent string) string {
	return filepath.Join(p.Dir(), "queues", agent, "queue.json")
}

// EnsureDir creates the mesh directory.
func (p Paths) EnsureDir() error {
	return os.MkdirAll(p.Dir(), 0o755)
}

// AdminPaths locates the offline root key. Kept apart from Paths so the
// private root never lands next to the transport state by accident.
type AdminPaths struct {
	Root string
	Mesh string
}

// DefaultAdminRoot is <state root>/admin.
func DefaultAdminRoot() string {
	return filepath.Join(DefaultRoot(), "admin")
}

func (p AdminPaths) Dir() string { return filepath.Join(p.Root, p.Mesh) }

func (p AdminPaths) RootKeyFile() string {
	return filepath.Join(p.Dir(), "root.key")
}

func (p AdminPaths) EnsureDir() error {
	return os.MkdirAll(p.Dir(), 0o700)
}
