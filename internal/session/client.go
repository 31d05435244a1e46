package session

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 10 << 20            // Uploads arrive base64-encoded in one frame.
)

// Close codes carried to the client when a session is rejected.
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
	CloseNotFound        = 4004
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client wraps one websocket connection. Its send channel is the
// subscriber handle registered with the fabric: Deliver never blocks,
// so one slow socket cannot stall delivery to the rest of a group.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

// Upgrade performs the websocket upgrade and starts the write pump.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, send: make(chan []byte, 256)}
	go c.writePump()
	return c, nil
}

// Deliver implements fabric.Subscriber. A full send buffer drops the
// payload; the socket's own keep-alive will reap a dead peer.
func (c *Client) Deliver(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

// CloseWithCode sends a close frame with a distinct code and shuts the
// connection down. Used for the 4001/4003/4004 rejections.
func (c *Client) CloseWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		c.conn.Close()
	})
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// ReadPump reads frames until the connection dies, invoking handle for
// each one. Frames are handled one at a time: no two actions from the
// same socket ever run concurrently.
func (c *Client) ReadPump(handle func(payload []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("session: read: %v", err)
			}
			return
		}
		if handle != nil {
			handle(message)
		}
	}
}

// writePump pumps queued payloads to the websocket connection and keeps
// the connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// Each payload is a standalone JSON document and gets its
			// own frame; clients parse one document per frame.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
