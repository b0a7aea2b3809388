package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/metrics"
)

var (
	ErrInvalidTicket = errors.New("invalid ticket")
	ErrPoolClosed    = errors.New("pool closed")
	ErrEmptyToken    = errors.New("participant token is required")
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	StatusWaiting   TicketStatus = "waiting"
	StatusPaired    TicketStatus = "paired"
	StatusExpired   TicketStatus = "expired"
	StatusCancelled TicketStatus = "cancelled"
)

// Ticket is a participant's claim on matchmaking. Once paired it carries the
// session id, the commitment hash and the seat the participant plays.
type Ticket struct {
	ID         uuid.UUID
	Token      string
	Status     TicketStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
	SessionID  uuid.UUID
	CommitHash string
	Seat       int
}

// Match is what a Matcher returns after creating a session.
type Match struct {
	SessionID  uuid.UUID
	CommitHash string
}

// Matcher creates sessions for resolved tickets. MatchHumans seats first in seat 0.
type Matcher interface {
	MatchHumans(first, second string) (Match, error)
	MatchAI(token string) (Match, error)
}

// Rand is the random source for pairing draws.
type Rand interface {
	Float64() float64
}

type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// Config holds pool tuning.
type Config struct {
	// Window is how long a ticket waits for a human peer before it resolves to AI.
	Window time.Duration
	// Retention is how long resolved tickets remain queryable.
	Retention time.Duration
	// H2HProb is the probability that two available humans are paired together.
	H2HProb float64
}

type entry struct {
	ticket     Ticket
	reservedAI bool
	window     clockwork.Timer
}

// Pool owns the waiting queue. All mutation happens on the goroutine running Run.
type Pool struct {
	cfg     Config
	clock   clockwork.Clock
	matcher Matcher
	rng     Rand
	metrics metrics.Collector

	ops     chan func()
	stopped chan struct{}

	// owned by the Run goroutine
	queue   []*entry
	tickets map[uuid.UUID]*entry
}

// Option configures a Pool.
type Option func(*Pool)

// WithRand replaces the default math/rand/v2 source.
func WithRand(r Rand) Option {
	return func(p *Pool) { p.rng = r }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(p *Pool) { p.metrics = c }
}

func NewPool(cfg Config, clock clockwork.Clock, matcher Matcher, opts ...Option) *Pool {
	p := &Pool{
		cfg:     cfg,
		clock:   clock,
		matcher: matcher,
		rng:     defaultRand{},
		metrics: metrics.NoOpCollector{},
		ops:     make(chan func()),
		stopped: make(chan struct{}),
		tickets: make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes pool operations until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	log.Info().
		Dur("window", p.cfg.Window).
		Float64("h2h_prob", p.cfg.H2HProb).
		Msg("matchmaking pool started")

	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			for _, e := range p.queue {
				if e.window != nil {
					e.window.Stop()
				}
			}
			log.Info().Int("waiting", len(p.queue)).Msg("matchmaking pool shutting down")
			return
		case op := <-p.ops:
			op()
		}
	}
}

// do runs fn on the pool goroutine and waits for it to finish.
func (p *Pool) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case p.ops <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopped:
		return ErrPoolClosed
	}
	<-finished
	return nil
}

// post queues fn without waiting. Used by timer callbacks.
func (p *Pool) post(fn func()) {
	select {
	case p.ops <- fn:
	case <-p.stopped:
	}
}

// Join creates a ticket and tries to pair it with the oldest available peer.
func (p *Pool) Join(ctx context.Context, token string) (Ticket, error) {
	if token == "" {
		return Ticket{}, ErrEmptyToken
	}

	var t Ticket
	err := p.do(ctx, func() {
		t = p.join(token)
	})
	return t, err
}

// Leave cancels a waiting ticket. Tickets that are already resolved are left alone.
func (p *Pool) Leave(ctx context.Context, ticketID uuid.UUID) error {
	var opErr error
	err := p.do(ctx, func() {
		opErr = p.leave(ticketID)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Status returns a copy of the ticket.
func (p *Pool) Status(ctx context.Context, ticketID uuid.UUID) (Ticket, error) {
	var (
		t     Ticket
		found bool
	)
	err := p.do(ctx, func() {
		if e, ok := p.tickets[ticketID]; ok {
			t, found = e.ticket, true
		}
	})
	if err != nil {
		return Ticket{}, err
	}
	if !found {
		return Ticket{}, fmt.Errorf("%w: %s", ErrInvalidTicket, ticketID)
	}
	return t, nil
}

// Count returns the waiting queue size.
func (p *Pool) Count(ctx context.Context) (int, error) {
	var n int
	err := p.do(ctx, func() {
		n = len(p.queue)
	})
	return n, err
}

func (p *Pool) join(token string) Ticket {
	now := p.clock.Now()
	e := &entry{
		ticket: Ticket{
			ID:        uuid.New(),
			Token:     token,
			Status:    StatusWaiting,
			CreatedAt: now,
			ExpiresAt: now.Add(p.cfg.Window),
		},
	}
	p.tickets[e.ticket.ID] = e
	p.metrics.TicketJoined()

	if peer := p.oldestPeer(token); peer != nil {
		if p.rng.Float64() < p.cfg.H2HProb {
			p.pairHumans(peer, e)
			return e.ticket
		}
		// Both are available but the draw chose AI for one of them.
		if p.rng.Float64() < 0.5 {
			peer.reservedAI = true
		} else {
			e.reservedAI = true
		}
	}

	id := e.ticket.ID
	e.window = p.clock.AfterFunc(p.cfg.Window, func() {
		p.post(func() { p.expire(id) })
	})
	p.queue = append(p.queue, e)
	p.metrics.PoolSize(len(p.queue))

	log.Debug().
		Str("ticket_id", id.String()).
		Bool("reserved_ai", e.reservedAI).
		Int("waiting", len(p.queue)).
		Msg("ticket queued")
	return e.ticket
}

// oldestPeer returns the oldest waiting entry that may still be paired with a human.
func (p *Pool) oldestPeer(token string) *entry {
	now := p.clock.Now()
	for _, e := range p.queue {
		if e.reservedAI || e.ticket.Token == token || !now.Before(e.ticket.ExpiresAt) {
			continue
		}
		return e
	}
	return nil
}

func (p *Pool) pairHumans(first, second *entry) {
	p.dequeue(first)

	match, err := p.matcher.MatchHumans(first.ticket.Token, second.ticket.Token)
	if err != nil {
		log.Error().
			Err(err).
			Str("ticket_id", first.ticket.ID.String()).
			Str("peer_ticket_id", second.ticket.ID.String()).
			Msg("failed to create human match")
		p.resolve(first, StatusExpired, "expired")
		p.resolve(second, StatusExpired, "expired")
		return
	}

	first.ticket.SessionID, first.ticket.CommitHash, first.ticket.Seat = match.SessionID, match.CommitHash, 0
	second.ticket.SessionID, second.ticket.CommitHash, second.ticket.Seat = match.SessionID, match.CommitHash, 1
	p.resolve(first, StatusPaired, "h2h")
	p.resolve(second, StatusPaired, "h2h")

	log.Info().
		Str("session_id", match.SessionID.String()).
		Str("ticket_a", first.ticket.ID.String()).
		Str("ticket_b", second.ticket.ID.String()).
		Msg("paired waiting participants")
}

func (p *Pool) expire(ticketID uuid.UUID) {
	e, ok := p.tickets[ticketID]
	if !ok || e.ticket.Status != StatusWaiting {
		return
	}
	p.dequeue(e)

	match, err := p.matcher.MatchAI(e.ticket.Token)
	if err != nil {
		log.Error().Err(err).Str("ticket_id", ticketID.String()).Msg("failed to create AI match")
		p.resolve(e, StatusExpired, "expired")
		return
	}

	e.ticket.SessionID, e.ticket.CommitHash, e.ticket.Seat = match.SessionID, match.CommitHash, 0
	p.resolve(e, StatusPaired, "ai")

	log.Info().
		Str("session_id", match.SessionID.String()).
		Str("ticket_id", ticketID.String()).
		Msg("matching window elapsed, paired with AI")
}

func (p *Pool) leave(ticketID uuid.UUID) error {
	e, ok := p.tickets[ticketID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTicket, ticketID)
	}
	if e.ticket.Status != StatusWaiting {
		return nil
	}
	p.dequeue(e)
	p.resolve(e, StatusCancelled, "cancelled")

	log.Info().Str("ticket_id", ticketID.String()).Msg("ticket cancelled")
	return nil
}

// resolve finalises a ticket and schedules it to be forgotten.
func (p *Pool) resolve(e *entry, status TicketStatus, result string) {
	e.ticket.Status = status
	if e.window != nil {
		e.window.Stop()
		e.window = nil
	}
	p.metrics.TicketResolved(result, p.clock.Since(e.ticket.CreatedAt))

	id := e.ticket.ID
	p.clock.AfterFunc(p.cfg.Retention, func() {
		p.post(func() { delete(p.tickets, id) })
	})
}

func (p *Pool) dequeue(e *entry) {
	for i, q := range p.queue {
		if q == e {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	p.metrics.PoolSize(len(p.queue))
}
