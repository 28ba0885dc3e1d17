package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
)

const (
	// Time allowed to write a frame to the peer before it is treated as dead.
	writeWait = 10 * time.Second

	// Maximum frame size accepted from a peer.
	maxMessageSize = 512 * 1024

	sendBufferSize = 256
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conn is the slice of *websocket.Conn the registry needs. Tests hand in
// fakes; production hands in the upgraded gorilla connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// FrameHandler interprets one inbound frame. A non-nil return is an
// inline event (usually an error) pushed back to the same connection.
type FrameHandler interface {
	HandleFrame(ctx context.Context, userID string, raw []byte) *models.Event
}

// Client is one live authenticated connection. All writes go through the
// buffered send channel and a single writePump goroutine, so delivery to
// one connection is FIFO.
type Client struct {
	UserID string

	hub    *Hub
	conn   Conn
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger

	alive     atomic.Bool
	closeOnce sync.Once
}

func NewClient(userID string, conn Conn, hub *Hub, logger *slog.Logger) *Client {
	c := &Client{
		UserID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	c.alive.Store(true)
	return c
}

// Alive reports whether the peer has answered the last ping.
func (c *Client) Alive() bool {
	return c.alive.Load()
}

// ResetAlive lowers the liveness flag; the next pong raises it again.
func (c *Client) ResetAlive() {
	c.alive.Store(false)
}

// Ping sends a ping control frame.
func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close terminates the transport exactly once, no matter how many paths
// (supersession, heartbeat eviction, read error) race to it.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue hands marshaled bytes to the writer without blocking. A full
// buffer means the peer is stalled; the caller treats it as dead.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReadPump reads frames until the connection dies and hands each one to
// the handler. A bad frame never breaks the loop: the handler replies
// with an inline error event instead.
func (c *Client) ReadPump(ctx context.Context, handler FrameHandler) {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read failed", "userID", c.UserID, "error", err)
			}
			return
		}

		if reply := handler.HandleFrame(ctx, c.UserID, raw); reply != nil {
			c.hub.push(c, *reply)
		}
	}
}

// WritePump is the single outbound writer for the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
