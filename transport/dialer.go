package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn used by the session.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a new duplex connection to the server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials the board server with credentials attached.
type WebsocketDialer struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

func NewWebsocketDialer(cfg Config) *WebsocketDialer {
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	jar, _ := cookiejar.New(nil)
	return &WebsocketDialer{
		url:    cfg.URL,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Jar:              jar,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	return conn, nil
}
