// Package ws is the websocket transport: one Conn per client, a
// buffered send queue drained by a single write pump, and an envelope
// dispatch loop feeding the orchestrator.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 << 10 // files travel as references, never as bytes
	sendQueueSize  = 256
)

// Socket is an indirection over *websocket.Conn to ease testing.
type Socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Conn is the transport endpoint bound into the registry as a
// core.Sink. TrySend never blocks; a full queue is the caller's signal.
type Conn struct {
	id   core.ConnID
	sock Socket
	send chan core.Frame

	mu     sync.Mutex
	closed bool
}

var _ core.Sink = (*Conn)(nil)

func NewConn(id core.ConnID, sock Socket) *Conn {
	return &Conn{
		id:   id,
		sock: sock,
		send: make(chan core.Frame, sendQueueSize),
	}
}

func (c *Conn) ID() core.ConnID { return c.id }

// TrySend enqueues a frame without blocking. The mutex orders it
// against Close so a late send never hits a closed channel.
func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.sock.Close()
}

// writePump drains the send queue onto the wire and keeps the
// connection alive with pings. Exactly one pump per connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("module", "ws").Str("conn", string(c.id)).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
