package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *Message {
	return &Message{
		ID:        "msg-1",
		From:      "alice",
		To:        "bob",
		Type:      TypeDeliver,
		Payload:   "hello",
		Timestamp: 1724500000123,
		Nonce:     "nonce-1",
	}
}

func TestSignMACFormat(t *testing.T) {
	m := testMessage()
	mac := SignMAC([]byte("secret"), m)
	assert.Len(t, mac, 64)
	assert.Equal(t, strings.ToLower(mac), mac)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	secret := []byte("shared-mesh-secret")
	m := testMessage()
	m.MAC = SignMAC(secret, m)
	assert.True(t, VerifyMAC(secret, m))
}

func TestVerifyRejectsTamperedFields(t *testing.T) {
	secret := []byte("shared-mesh-secret")

	tamper := map[string]func(*Message){
		"id":        func(m *Message) { m.ID = "msg-2" },
		"type":      func(m *Message) { m.Type = TypeAsk },
		"payload":   func(m *Message) { m.Payload = "hello!" },
		"timestamp": func(m *Message) { m.Timestamp++ },
		"nonce":     func(m *Message) { m.Nonce = "nonce-2" },
	}
	for name, mutate := range tamper {
		t.Run(name, func(t *testing.T) {
			m := testMessage()
			m.MAC = SignMAC(secret, m)
			mutate(m)
			assert.False(t, VerifyMAC(secret, m))
		})
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m := testMessage()
	m.MAC = SignMAC([]byte("secret-a"), m)
	assert.False(t, VerifyMAC([]byte("secret-b"), m))
}

func TestVerifyRejectsBadMACEncoding(t *testing.T) {
	m := testMessage()
	m.MAC = "not-hex"
	assert.False(t, VerifyMAC([]byte("secret"), m))

	m.MAC = "abcd" // valid hex, wrong length
	assert.False(t, VerifyMAC([]byte("secret"), m))
}

// Field boundaries must not be ambiguous: moving bytes across the
// delimiter changes the MAC.
func TestMACFieldBoundaries(t *testing.T) {
	secret := []byte("secret")

	a := testMessage()
	a.Payload = "ab"
	a.Nonce = "c"

	b := testMessage()
	b.Payload = "a"
	b.Nonce = "bc"

	require.NotEqual(t, SignMAC(secret, a), SignMAC(secret, b))
}

func TestValidate(t *testing.T) {
	m := testMessage()
	m.MAC = "00"
	require.NoError(t, m.Validate())

	missing := map[string]func(*Message){
		"id":        func(m *Message) { m.ID = "" },
		"nonce":     func(m *Message) { m.Nonce = "" },
		"timestamp": func(m *Message) { m.Timestamp = 0 },
		"mac":       func(m *Message) { m.MAC = "" },
		"type":      func(m *Message) { m.Type = "broadcast" },
	}
	for name, mutate := range missing {
		t.Run(name, func(t *testing.T) {
			m := testMessage()
			m.MAC = "00"
			mutate(m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestValidateReplyRequiresReplyTo(t *testing.T) {
	m := testMessage()
	m.MAC = "00"
	m.Type = TypeReply
	assert.Error(t, m.Validate())

	m.ReplyTo = "ask-1"
	assert.NoError(t, m.Validate())
}

func TestSecurityWithDefaults(t *testing.T) {
	s := Security{}.WithDefaults()
	assert.Equal(t, DefaultReplayWindowSeconds, s.ReplayWindowSeconds)
	assert.Equal(t, int64(DefaultMaxMessageSizeBytes), s.MaxMessageSizeBytes)

	custom := Security{ReplayWindowSeconds: 30, MaxMessageSizeBytes: 1024}.WithDefaults()
	assert.Equal(t, 30, custom.ReplayWindowSeconds)
	assert.Equal(t, int64(1024), custom.MaxMessageSizeBytes)
}
