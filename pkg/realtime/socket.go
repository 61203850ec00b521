package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the manager uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens a socket to the real-time endpoint
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, error)
}

// GorillaDialer adapts a *websocket.Dialer to Dialer
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

// DialContext implements Dialer
func (g GorillaDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, error) {
	d := g.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}

	conn, resp, err := d.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// closeCode maps a read error to a close code. Errors that carry no close
// frame are reported as an abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
