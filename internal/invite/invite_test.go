package invite

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pub, priv := testKeys(t)

	p := New("prod", "billing", "bm9kZS1wdWI", 10*time.Minute)
	token, err := Encode(priv, p)
	require.NoError(t, err)
	assert.Equal(t, 2, len(strings.Split(token, ".")))

	got, err := Decode(pub, token)
	require.NoError(t, err)
	assert.Equal(t, "prod", got.Mesh)
	assert.Equal(t, "billing", got.Agent)
	assert.Equal(t, p.JTI, got.JTI)
	assert.Equal(t, p.EXP, got.EXP)
	assert.NoError(t, got.ValidAt(time.Now()))
}

func TestNewTTLBounds(t *testing.T) {
	p := New("m", "a", "k", 0)
	assert.Equal(t, DefaultTTL.Milliseconds(), p.EXP-p.IAT)

	p = New("m", "a", "k", 24*time.Hour)
	assert.Equal(t, MaxTTL.Milliseconds(), p.EXP-p.IAT)
}

func TestDecodeRejectsWrongKey(t *testing.T) {
	_, priv := testKeys(t)
	otherPub, _ := testKeys(t)

	token, err := Encode(priv, New("m", "a", "k", time.Minute))
	require.NoError(t, err)

	_, err = Decode(otherPub, token)
	assert.ErrorIs(t, err, ErrSignature)
}

func TestDecodeRejectsTamperedPayload(t *testing.T) {
	pub, priv := testKeys(t)
	token, err := Encode(priv, New("m", "a", "k", time.Minute))
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	b := []byte(parts[0])
	if b[1] == 'A' {
		b[1] = 'B'
	} else {
		b[1] = 'A'
	}
	_, err = Decode(pub, string(b)+"."+parts[1])
	assert.ErrorIs(t, err, ErrSignature)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	pub, _ := testKeys(t)
	for _, token := range []string{"", "one-part", "a.b.c", "!!!.c2ln"} {
		_, err := Decode(pub, token)
		assert.ErrorIs(t, err, ErrMalformed, token)
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	pub, priv := testKeys(t)

	missing := map[string]func(*Payload){
		"agent": func(p *Payload) { p.Agent = "" },
		"iat":   func(p *Payload) { p.IAT = 0 },
		"nbf":   func(p *Payload) { p.NBF = 0 },
		"exp":   func(p *Payload) { p.EXP = 0 },
	}
	for name, mutate := range missing {
		t.Run(name, func(t *testing.T) {
			p := New("m", "a", "k", time.Minute)
			mutate(p)
			token, err := Encode(priv, p)
			require.NoError(t, err)

			_, err = Decode(pub, token)
			assert.ErrorIs(t, err, ErrPayload)
		})
	}
}

func TestValidAtWindow(t *testing.T) {
	now := time.Now()
	p := &Payload{
		NBF: now.UnixMilli(),
		EXP: now.Add(10 * time.Minute).UnixMilli(),
	}

	assert.NoError(t, p.ValidAt(now))
	assert.NoError(t, p.ValidAt(now.Add(10*time.Minute)))

	// Skew keeps the edges soft.
	assert.NoError(t, p.ValidAt(now.Add(-30*time.Second)))
	assert.NoError(t, p.ValidAt(now.Add(10*time.Minute+30*time.Second)))

	assert.ErrorIs(t, p.ValidAt(now.Add(-2*time.Minute)), ErrNotYetValid)
	assert.ErrorIs(t, p.ValidAt(now.Add(12*time.Minute)), ErrExpired)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	assert.False(t, s.Consumed("jti-1"))
	s.Consume("jti-1")
	assert.True(t, s.Consumed("jti-1"))
	assert.False(t, s.Consumed("jti-2"))
}

func TestNopStoreNeverConsumes(t *testing.T) {
	s := NopStore{}
	s.Consume("jti-1")
	assert.False(t, s.Consumed("jti-1"))
}
