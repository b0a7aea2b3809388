package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/matchmaking"
	"github.com/mcdev12/turingchat/go/internal/metrics"
	"github.com/mcdev12/turingchat/go/internal/protocol"
	"github.com/mcdev12/turingchat/go/internal/session"
)

// TicketSource resolves a ticket to its assigned session and seat.
type TicketSource interface {
	Status(ctx context.Context, ticketID uuid.UUID) (matchmaking.Ticket, error)
}

// SessionSource finds live sessions.
type SessionSource interface {
	Get(id uuid.UUID) (*session.Session, error)
}

// Gateway upgrades ticket holders to WebSocket connections and bridges frames
// between the socket and the session actor.
type Gateway struct {
	tickets  TicketSource
	sessions SessionSource
	upgrader websocket.Upgrader
	config   ConnectionConfig
	metrics  metrics.Collector

	mu          sync.RWMutex
	connections map[*Connection]struct{}
}

type Option func(*Gateway)

func WithMetrics(c metrics.Collector) Option {
	return func(g *Gateway) { g.metrics = c }
}

func New(cfg ConnectionConfig, tickets TicketSource, sessions SessionSource, opts ...Option) *Gateway {
	g := &Gateway{
		tickets:  tickets,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		config:      cfg,
		metrics:     metrics.NoOpCollector{},
		connections: make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (g *Gateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/match", g.HandleMatch)
}

// HandleMatch attaches the ticket's seat to its session. Lookup failures are
// reported as an error frame on the upgraded socket, then the socket is closed.
func (g *Gateway) HandleMatch(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	ticket, sess, ferr := g.resolve(r.Context(), r.URL.Query().Get("ticket"))
	if ferr != nil {
		g.reject(ws, *ferr)
		return
	}

	seat := session.Seat(ticket.Seat)
	c := newConnection(ws, sess.ID(), seat, g.config)
	g.register(c)
	go c.writePump()

	if err := sess.Attach(seat, c); err != nil {
		ef := errorFrame(err)
		g.metrics.FrameRejected(string(ef.ErrorKind))
		c.Send(ef)
		c.Close()
		g.unregister(c)
		return
	}

	log.Info().
		Str("connection_id", c.ID).
		Str("session_id", sess.ID().String()).
		Int("seat", int(seat)).
		Msg("WebSocket connection established")

	go g.readPump(c, sess)
}

func (g *Gateway) resolve(ctx context.Context, raw string) (matchmaking.Ticket, *session.Session, *protocol.Error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		f := protocol.NewError(protocol.ErrInvalidTicket, "ticket is missing or malformed")
		return matchmaking.Ticket{}, nil, &f
	}

	ticket, err := g.tickets.Status(ctx, id)
	if err != nil {
		f := protocol.NewError(protocol.ErrInvalidTicket, "ticket not found")
		return matchmaking.Ticket{}, nil, &f
	}
	if ticket.Status != matchmaking.StatusPaired {
		f := protocol.NewError(protocol.ErrInvalidTicket, "ticket is "+string(ticket.Status))
		return matchmaking.Ticket{}, nil, &f
	}

	sess, err := g.sessions.Get(ticket.SessionID)
	if err != nil {
		f := protocol.NewError(protocol.ErrSessionNotFound, "session is no longer live")
		return matchmaking.Ticket{}, nil, &f
	}
	return ticket, sess, nil
}

func (g *Gateway) reject(ws *websocket.Conn, f protocol.Error) {
	defer ws.Close()
	g.metrics.FrameRejected(string(f.ErrorKind))

	data, err := protocol.Encode(f)
	if err != nil {
		return
	}
	ws.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(f.ErrorKind)))
}

// readPump handles reading messages from the WebSocket connection
func (g *Gateway) readPump(c *Connection, sess *session.Session) {
	defer func() {
		g.unregister(c)
		sess.Disconnect(c.Seat)
		c.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		g.handleClientMessage(c, sess, message)
	}
}

func (g *Gateway) handleClientMessage(c *Connection, sess *session.Session, message []byte) {
	f, err := protocol.DecodeInbound(message)
	if err != nil {
		g.metrics.FrameRejected(string(protocol.ErrInvalidFrame))
		c.Send(protocol.NewError(protocol.ErrInvalidFrame, err.Error()))
		return
	}

	if err := sess.Submit(c.Seat, f); err != nil {
		ef := errorFrame(err)
		g.metrics.FrameRejected(string(ef.ErrorKind))
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("frame", string(f.Kind())).
			Msg("frame rejected")
		c.Send(ef)
	}
}

// errorFrame maps session errors onto participant-facing error kinds.
func errorFrame(err error) protocol.Error {
	switch {
	case errors.Is(err, session.ErrOutOfTurn):
		return protocol.NewError(protocol.ErrOutOfTurn, "not your turn")
	case errors.Is(err, session.ErrNotStarted):
		return protocol.NewError(protocol.ErrOutOfTurn, "match has not started")
	case errors.Is(err, session.ErrAlreadyTerminal):
		return protocol.NewError(protocol.ErrAlreadyTerminal, "match is over")
	case errors.Is(err, session.ErrSessionNotFound):
		return protocol.NewError(protocol.ErrSessionNotFound, "session is no longer live")
	case errors.Is(err, session.ErrSeatTaken), errors.Is(err, session.ErrNotParticipant):
		return protocol.NewError(protocol.ErrNotParticipant, err.Error())
	default:
		return protocol.NewError(protocol.ErrInvalidFrame, err.Error())
	}
}

func (g *Gateway) register(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connections[c] = struct{}{}
}

func (g *Gateway) unregister(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.connections[c]; ok {
		delete(g.connections, c)
		log.Debug().
			Str("connection_id", c.ID).
			Str("session_id", c.SessionID.String()).
			Msg("connection unregistered")
	}
}

// Count returns the number of open sockets.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}

// CloseAll flushes and closes every open socket.
func (g *Gateway) CloseAll() {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.connections))
	for c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}
