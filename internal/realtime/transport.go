package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open socket. ReadMessage is called from a single goroutine;
// WriteMessage calls are serialized by the Manager.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const writeWait = 10 * time.Second

// GorillaDialer dials with gorilla/websocket. A nil Dialer uses
// websocket.DefaultDialer.
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

func (d GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dl := d.Dialer
	if dl == nil {
		dl = websocket.DefaultDialer
	}
	c, resp, err := dl.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &gorillaConn{c: c}, nil
}

type gorillaConn struct {
	c *websocket.Conn
}

func (g *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := g.c.ReadMessage()
	return data, err
}

func (g *gorillaConn) WriteMessage(data []byte) error {
	_ = g.c.SetWriteDeadline(time.Now().Add(writeWait))
	return g.c.WriteMessage(websocket.TextMessage, data)
}

func (g *gorillaConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = g.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return g.c.Close()
}

// cleanClose reports whether err is an orderly close rather than a socket
// failure worth surfacing.
func cleanClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
