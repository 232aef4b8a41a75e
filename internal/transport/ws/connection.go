package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/infrastructure/logger"
)

var (
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrSendTimeout      = errors.New("ws: send timed out")
)

const (
	DefaultSendBuffer   = 64
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadLimit    = 4096
)

// Socket is the part of a websocket connection the handle drives. Both the
// fiber and the plain fasthttp connection types satisfy it.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	Close() error
}

type ConnectionConfig struct {
	ID           string
	SendBuffer   int
	WriteTimeout time.Duration
	Logger       *logger.Logger
}

// Connection is one accepted socket. Outbound frames go through a buffered
// channel drained by a single writer goroutine, so concurrent Send calls
// never write to the socket at the same time.
type Connection struct {
	id           string
	sock         Socket
	out          chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	writerDone   chan struct{}
	writeTimeout time.Duration
	logger       *logger.Logger
}

func NewConnection(sock Socket, cfg ConnectionConfig) *Connection {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	c := &Connection{
		id:           cfg.ID,
		sock:         sock,
		out:          make(chan []byte, cfg.SendBuffer),
		closed:       make(chan struct{}),
		writerDone:   make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string { return c.id }

// Send queues payload for the writer. It waits at most the write timeout for
// room in the buffer.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.out <- payload:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSendTimeout
	}
}

func (c *Connection) IsOpen() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Close stops the writer, sends a close frame and closes the socket. The
// pending receive in ReadLoop fails as a result. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.sock.Close()
	})
	return err
}

// Wait blocks until the writer goroutine has exited.
func (c *Connection) Wait() {
	<-c.writerDone
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.out:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warnw("ws_write_failed", "connection_id", c.id, "error", err)
				_ = c.Close()
				return
			}
		}
	}
}

// ReadLoop delivers every inbound text message to handle until the peer
// closes or the socket fails. A normal close returns nil.
func (c *Connection) ReadLoop(readLimit int64, handle func([]byte)) error {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	c.sock.SetReadLimit(readLimit)

	for {
		mt, msg, err := c.sock.ReadMessage()
		if err != nil {
			if !c.IsOpen() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		handle(msg)
	}
}

var _ ports.Connection = (*Connection)(nil)
