package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://host:8700", "http://host:8700"},
		{"http://host:8700/", "http://host:8700"},
		{"https://mesh.example.com", "https://mesh.example.com"},
		{"host:8700", "http://host:8700"},
		{"  http://host:8700  ", "http://host:8700"},
		{"127.0.0.1:9000", "http://127.0.0.1:9000"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizeURLRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://host:21", "justahost", ":8700"} {
		_, err := NormalizeURL(in)
		assert.Error(t, err, in)
	}
}
