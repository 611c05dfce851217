package realtime

import (
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultReconnectInterval    = 3000 * time.Millisecond
	DefaultMaxReconnectAttempts = 10
	DefaultHeartbeatInterval    = 30000 * time.Millisecond
	DefaultMaxBackoff           = 30000 * time.Millisecond
	DefaultHandshakeTimeout     = 10 * time.Second
)

// Config configures a Manager. Zero fields take defaults.
type Config struct {
	URL                  string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	MaxBackoff           time.Duration
	HandshakeTimeout     time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// BackoffDelay returns the wait before reconnect attempt n (1-based):
// min(base * 2^(n-1), ceiling).
func BackoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// User is the identity carried in the connection handshake.
type User struct {
	ID   string
	Type string
	Name string
}

// endpoint builds the dial URL with userId and userType query parameters.
// http(s) schemes are mapped to ws(s).
func endpoint(raw string, u User) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("websocket url %q: unsupported scheme %q", raw, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("websocket url %q: missing host", raw)
	}
	q := parsed.Query()
	q.Set("userId", u.ID)
	q.Set("userType", u.Type)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}
