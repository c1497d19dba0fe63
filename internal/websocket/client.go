package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// Client wraps one upgraded connection. Writes are serialized so the
// session worker and the connection handler can both send.
type Client struct {
	ID   string
	Conn *websocket.Conn

	writeTimeout time.Duration
	mu           sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

// NewClient wraps conn and assigns it a fresh connection ID.
func NewClient(conn *websocket.Conn, writeTimeout time.Duration) *Client {
	return &Client{
		ID:           ulid.Make().String(),
		Conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// Send writes msg as a JSON text frame.
func (c *Client) Send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.Conn.WriteJSON(msg)
}

// Close sends a normal closure frame and closes the underlying connection.
// Only the first call has any effect.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		if c.writeTimeout > 0 {
			deadline = time.Now().Add(c.writeTimeout)
		}
		// best effort; the peer may already be gone
		_ = c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}
