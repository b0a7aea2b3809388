package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/protocol"
	"github.com/mcdev12/turingchat/go/internal/session"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection send buffer full")
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Connection is one participant's socket. It implements session.Transport.
type Connection struct {
	ID        string
	SessionID uuid.UUID
	Seat      session.Seat

	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	config    ConnectionConfig

	ConnectedAt time.Time
}

func newConnection(ws *websocket.Conn, sessionID uuid.UUID, seat session.Seat, cfg ConnectionConfig) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Seat:        seat,
		conn:        ws,
		send:        make(chan []byte, cfg.SendBuffer),
		closed:      make(chan struct{}),
		config:      cfg,
		ConnectedAt: time.Now(),
	}
}

// Send queues a frame for the write pump without blocking. It returns
// ErrConnectionClosed once Close has been called. A frame that races a
// concurrent Close may be dropped without an error.
func (c *Connection) Send(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("session_id", c.SessionID.String()).
			Msg("connection send buffer full, closing connection")
		c.Close()
		return ErrSendBufferFull
	}
}

// Close asks the write pump to flush queued frames and close the socket.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				c.Close()
				return
			}

		case <-c.closed:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				c.Close()
				return
			}
		}
	}
}

// flush writes whatever was queued before Close.
func (c *Connection) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}
