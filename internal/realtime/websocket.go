package realtime

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Upgrader accepts websocket clients from any origin; the dashboard is served
// from a different host than the gateway.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errConnClosed = errors.New("connection closed")

// WSConn adapts a gorilla websocket to Connection. Writes are serialised.
type WSConn struct {
	id           string
	conn         *websocket.Conn
	mu           sync.Mutex
	open         atomic.Bool
	writeTimeout time.Duration
}

// NewWSConn wraps an upgraded websocket.
func NewWSConn(conn *websocket.Conn, writeTimeout time.Duration) *WSConn {
	c := &WSConn{id: uuid.NewString(), conn: conn, writeTimeout: writeTimeout}
	c.open.Store(true)
	return c
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) IsOpen() bool { return c.open.Load() }

// Send writes one text frame.
func (c *WSConn) Send(data []byte) error {
	if !c.open.Load() {
		return errConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.open.Store(false)
		return err
	}
	return nil
}

// Close sends a close frame and releases the socket. Only the first call acts.
func (c *WSConn) Close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

// ReadLoop blocks reading frames and hands text frames to onText until the
// client goes away. A normal close returns nil.
func (c *WSConn) ReadLoop(onText func([]byte)) error {
	defer c.open.Store(false)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}
		if msgType == websocket.TextMessage && onText != nil {
			onText(data)
		}
	}
}
