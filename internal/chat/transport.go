package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live channel to the relay. Reads and writes carry
// models.Envelope values.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a channel to the relay on behalf of clientID.
type Dialer interface {
	Dial(ctx context.Context, clientID string) (Conn, error)
}

// WebsocketDialer connects to the relay's websocket endpoint,
// passing the client id as the userId query parameter.
type WebsocketDialer struct {
	URL    string
	Origin string

	dialer *websocket.Dialer
}

func NewWebsocketDialer(rawURL string) *WebsocketDialer {
	return &WebsocketDialer{
		URL: rawURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, clientID string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("userId", clientID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.Origin != "" {
		header.Set("Origin", d.Origin)
	}

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return conn, nil
}
