package session

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPath is the analysis endpoint path appended to bare addresses.
const DefaultPath = "/ws/video-analysis/"

// ResolveURL turns a user supplied address into a WebSocket URL.
//
// ws:// and wss:// URLs are returned unchanged. http(s):// is mapped to
// ws(s)://, a bare host gets ws://. The port is added only when it is
// positive and the address carries none; the default path is added when
// the address has no path.
func ResolveURL(address string, port int) (string, error) {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return "", fmt.Errorf("server address is empty")
	}

	lower := strings.ToLower(addr)
	switch {
	case strings.HasPrefix(lower, "ws://"), strings.HasPrefix(lower, "wss://"):
		u, err := url.Parse(addr)
		if err != nil {
			return "", fmt.Errorf("invalid server URL %q: %w", addr, err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("server URL %q has no host", addr)
		}
		return addr, nil
	case strings.HasPrefix(lower, "https://"):
		addr = "wss://" + addr[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		addr = "ws://" + addr[len("http://"):]
	default:
		addr = "ws://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", address, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server address %q has no host", address)
	}
	if port > 0 && u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultPath
	}
	return u.String(), nil
}
