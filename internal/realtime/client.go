package realtime

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"messenger/internal/domain"
)

var (
	ErrClientClosed   = errors.New("connection closed")
	ErrBufferExceeded = errors.New("connection send buffer exceeded")
)

// ClientOptions tunes the write side of a connection.
type ClientOptions struct {
	SendBuffer int
	WriteWait  time.Duration
	PingPeriod time.Duration
	// OnOverflow runs once when the client is dropped for a full buffer.
	OnOverflow func()
}

// Client is one authenticated WebSocket connection. Outbound frames go
// through a bounded channel drained by a single writer goroutine.
type Client struct {
	ID       string
	UserID   int64
	Username string

	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed *atomic.Bool
	opts   ClientOptions
}

func NewClient(ws *websocket.Conn, identity domain.Identity, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	return &Client{
		ID:       uuid.NewString(),
		UserID:   identity.UserID,
		Username: identity.Username,
		ws:       ws,
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
		closed:   atomic.NewBool(false),
		opts:     opts,
	}
}

// Start launches the write loop. It must be called exactly once.
func (c *Client) Start() {
	go c.writeLoop()
}

// Send enqueues payload without blocking. A full buffer closes the
// connection; the client is expected to reconnect and refetch.
func (c *Client) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	select {
	case <-c.done:
		return ErrClientClosed
	case c.send <- payload:
		return nil
	default:
		if !c.closed.Load() && c.opts.OnOverflow != nil {
			c.opts.OnOverflow()
		}
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return ErrBufferExceeded
	}
}

// Close stops the write loop and closes the socket. Safe to call repeatedly.
func (c *Client) Close(code int, reason string) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	deadline := time.Now().Add(c.opts.WriteWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.ws.Close()
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	return c.closed.Load()
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
