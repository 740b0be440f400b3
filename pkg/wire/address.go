package wire

import (
	"fmt"
	"net/url"
)

// realtimePath is the backend path prefix for realtime voice connections.
const realtimePath = "/realtime/voice/"

// DeriveURL builds the realtime websocket address for a session from the
// backend base URL, translating the scheme to its websocket equivalent.
// "http" becomes "ws", "https" becomes "wss"; "ws" and "wss" pass through
// for callers that already hold a websocket base.
func DeriveURL(base, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("wire: derive url: empty session id")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("wire: derive url from %q: %w", base, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("wire: derive url: unsupported scheme %q", u.Scheme)
	}

	u = u.JoinPath(realtimePath, sessionID)
	return u.String(), nil
}
