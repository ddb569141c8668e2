package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv := testKeys(t)

	env, err := Sign(priv, map[string]any{"mesh": "prod", "version": 3}, "root-2026-08-24")
	require.NoError(t, err)
	assert.Equal(t, Alg, env.Alg)
	assert.Equal(t, "root-2026-08-24", env.Kid)

	payload, err := Verify(pub, env)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "prod", got["mesh"])
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	pub, priv := testKeys(t)
	env, err := Sign(priv, map[string]int{"version": 3}, "kid")
	require.NoError(t, err)

	// Flip one character of the base64 payload.
	b := []byte(env.Payload)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	env.Payload = string(b)

	_, err = Verify(pub, env)
	assert.ErrorIs(t, err, ErrSignature)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv := testKeys(t)
	otherPub, _ := testKeys(t)

	env, err := Sign(priv, map[string]int{"version": 3}, "kid")
	require.NoError(t, err)

	_, err = Verify(otherPub, env)
	assert.ErrorIs(t, err, ErrSignature)
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	pub, priv := testKeys(t)
	env, err := Sign(priv, map[string]int{"v": 1}, "kid")
	require.NoError(t, err)

	env.Alg = "HS256"
	_, err = Verify(pub, env)
	assert.ErrorIs(t, err, ErrAlgorithm)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	pub, _ := testKeys(t)

	_, err := Verify(pub, nil)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Verify(pub, &Envelope{Alg: Alg, Payload: "", Sig: "sig"})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Verify(pub, &Envelope{Alg: Alg, Payload: "!!!not-base64!!!", Sig: "c2ln"})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSignatureCoversCanonicalForm(t *testing.T) {
	pub, priv := testKeys(t)

	// Same logical payload signed twice produces identical envelopes.
	a, err := Sign(priv, map[string]int{"b": 2, "a": 1}, "kid")
	require.NoError(t, err)
	b, err := Sign(priv, map[string]int{"a": 1, "b": 2}, "kid")
	require.NoError(t, err)
	assert.Equal(t, a.Payload, b.Payload)
	assert.Equal(t, a.Sig, b.Sig)

	_, err = Verify(pub, a)
	assert.NoError(t, err)
}

func TestPayloadHashFormat(t *testing.T) {
	_, priv := testKeys(t)
	env, err := Sign(priv, map[string]int{"v": 1}, "kid")
	require.NoError(t, err)

	hash := env.PayloadHash()
	assert.True(t, strings.HasPrefix(hash, "sha256:"))
	assert.Len(t, strings.TrimPrefix(hash, "sha256:"), 64)
}
