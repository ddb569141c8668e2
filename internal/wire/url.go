package wire

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeURL validates and canonicalizes a peer base URL. A bare
// host:port gets an http:// scheme; a single trailing slash is stripped.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("empty peer URL")
	}

	if !strings.Contains(s, "://") {
		host, port, err := net.SplitHostPort(s)
		if err != nil || host == "" || port == "" {
			return "", fmt.Errorf("invalid peer URL %q", raw)
		}
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid peer URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q in peer URL %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid peer URL %q: missing host", raw)
	}

	return strings.TrimSuffix(s, "/"), nil
}
