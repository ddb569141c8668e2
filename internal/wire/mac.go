package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// macDelimiter separates the five authenticated fields. The timestamp is
// encoded as its decimal string.
const macDelimiter = '|'

func computeMAC(secret []byte, m *Message) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(m.ID))
	mac.Write([]byte{macDelimiter})
	mac.Write([]byte(m.Type))
	mac.Write([]byte{macDelimiter})
	mac.Write([]byte(m.Payload))
	mac.Write([]byte{macDelimiter})
	mac.Write([]byte(strconv.FormatInt(m.Timestamp, 10)))
	mac.Write([]byte{macDelimiter})
	mac.Write([]byte(m.Nonce))
	return mac.Sum(nil)
}

// SignMAC returns the 64-char lowercase hex authenticator for m under
// the shared transport secret.
func SignMAC(secret []byte, m *Message) string {
	return hex.EncodeToString(computeMAC(secret, m))
}

// VerifyMAC recomputes the authenticator and compares it in constant
// time. A MAC of the wrong length or with non-hex characters fails
// without further comparison.
func VerifyMAC(secret []byte, m *Message) bool {
	got, err := hex.DecodeString(m.MAC)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, computeMAC(secret, m))
}
