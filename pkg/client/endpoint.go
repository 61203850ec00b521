package client

import (
	"fmt"
	"net/url"
	"strings"
)

// WebSocketPath is the real-time endpoint path on the backend host
const WebSocketPath = "/ws"

// WebSocketURL derives the real-time endpoint. A configured API base wins:
// http becomes ws, https becomes wss, and the REST prefix is replaced by /ws.
// Without an API base the page origin is used instead.
func WebSocketURL(apiBase, origin string) (string, error) {
	switch {
	case apiBase != "":
		u, err := toWebSocketScheme(apiBase)
		if err != nil {
			return "", err
		}
		path := strings.TrimRight(u.Path, "/")
		if strings.HasSuffix(path, DefaultRESTPrefix) {
			path = strings.TrimSuffix(path, DefaultRESTPrefix)
		}
		u.Path = path + WebSocketPath
		u.RawQuery = ""
		u.Fragment = ""
		return u.String(), nil

	case origin != "":
		u, err := toWebSocketScheme(origin)
		if err != nil {
			return "", err
		}
		u.Path = WebSocketPath
		u.RawQuery = ""
		u.Fragment = ""
		return u.String(), nil

	default:
		return "", fmt.Errorf("neither API base nor origin configured")
	}
}

// WebSocketURL derives the real-time endpoint from the client's API base
func (c *Client) WebSocketURL() (string, error) {
	return WebSocketURL(c.baseURL, "")
}

func toWebSocketScheme(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}
