package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/internal/wire"
)

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	in := &Config{
		Mesh: "prod",
		Agents: map[string]wire.Peer{
			"alice": {Name: "alice", URL: "http://a:8700", Description: "billing"},
		},
		Security: wire.Security{ReplayWindowSeconds: 30, MaxMessageSizeBytes: 2048},
	}
	require.NoError(t, Save(path, in))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", got.Mesh)
	assert.Equal(t, "http://a:8700", got.Agents["alice"].URL)
	assert.Equal(t, 30, got.Security.ReplayWindowSeconds)
}

func TestConfigLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mesh":"prod"}`), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.NotNil(t, got.Agents)
	assert.Equal(t, wire.DefaultReplayWindowSeconds, got.Security.ReplayWindowSeconds)
}

func TestConfigLoadRejectsMissingMesh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "mesh")
}

func TestMeshKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.key")

	key, err := GenerateMeshKey()
	require.NoError(t, err)
	require.Len(t, key, MeshKeySize)
	require.NoError(t, SaveMeshKey(path, key))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadMeshKey(path)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestSaveMeshKeyRejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.key")
	assert.Error(t, SaveMeshKey(path, []byte("short")))
}

func TestKeypairRoundTrip(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "node.key")
	pubPath := filepath.Join(dir, "node.pub")

	pub, priv, err := GenerateKeypair()
	require.NoError(t, err)
	require.NoError(t, SavePrivateKey(privPath, priv))
	require.NoError(t, SavePublicKey(pubPath, pub))

	info, err := os.Stat(privPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	gotPriv, err := LoadPrivateKey(privPath)
	require.NoError(t, err)
	assert.Equal(t, priv, gotPriv)

	gotPub, err := LoadPublicKey(pubPath)
	require.NoError(t, err)
	assert.Equal(t, pub, gotPub)
}

func TestLoadKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0o600))

	_, err := LoadPrivateKey(path)
	assert.Error(t, err)
	_, err = LoadPublicKey(path)
	assert.Error(t, err)
}

func TestPathsLayout(t *testing.T) {
	p := Paths{Root: "/state", Mesh: "prod"}
	assert.Equal(t, "/state/prod", p.Dir())
	assert.Equal(t, "/state/prod/config.json", p.ConfigFile())
	assert.Equal(t, "/state/prod/queues/alice/queue.json", p.QueueFile("alice"))

	a := AdminPaths{Root: "/admin", Mesh: "prod"}
	assert.Equal(t, "/admin/prod/root.key", a.RootKeyFile())
}
