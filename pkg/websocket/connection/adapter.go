package connection

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn abstracts the gorilla/websocket.Conn for testability.
type WebSocketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// WebSocketDialer abstracts websocket dialing for testability.
type WebSocketDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (WebSocketConn, *http.Response, error)
}

type gorillaWebSocketConn struct {
	conn *websocket.Conn
}

func (g *gorillaWebSocketConn) ReadMessage() (int, []byte, error) {
	return g.conn.ReadMessage()
}

func (g *gorillaWebSocketConn) WriteMessage(messageType int, data []byte) error {
	return g.conn.WriteMessage(messageType, data)
}

func (g *gorillaWebSocketConn) Close() error {
	return g.conn.Close()
}

func (g *gorillaWebSocketConn) SetReadLimit(limit int64) {
	g.conn.SetReadLimit(limit)
}

func (g *gorillaWebSocketConn) SetReadDeadline(t time.Time) error {
	return g.conn.SetReadDeadline(t)
}

func (g *gorillaWebSocketConn) SetWriteDeadline(t time.Time) error {
	return g.conn.SetWriteDeadline(t)
}

type gorillaWebSocketDialer struct {
	dialer *websocket.Dialer
}

// NewGorillaDialer creates a production WebSocket dialer using gorilla/websocket.
func NewGorillaDialer(config Config) WebSocketDialer {
	return &gorillaWebSocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
	}
}

func (g *gorillaWebSocketDialer) DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (WebSocketConn, *http.Response, error) {
	conn, resp, err := g.dialer.DialContext(ctx, urlStr, requestHeader)
	if err != nil {
		return nil, resp, err
	}
	return &gorillaWebSocketConn{conn: conn}, resp, nil
}

// closeCode extracts the close status code from a read error, or 0 when the
// error is not a close frame.
func closeCode(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code
	}
	return 0
}
