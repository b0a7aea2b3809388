package timers

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Kind identifies which deadline elapsed.
type Kind int

const (
	RoundExpired Kind = iota + 1
	TurnTimedOut
)

func (k Kind) String() string {
	switch k {
	case RoundExpired:
		return "round_expired"
	case TurnTimedOut:
		return "turn_timed_out"
	default:
		return "unknown"
	}
}

// ErrRoundAlreadyStarted is returned when StartRound is called twice for a session.
var ErrRoundAlreadyStarted = errors.New("round timer already started")

// Fired is delivered to the session when one of its deadlines elapses.
// Gen is the turn generation the timer was armed with; it is zero for round timers.
type Fired struct {
	SessionID uuid.UUID
	Kind      Kind
	Deadline  time.Time
	Gen       uint64
}

// FireFunc receives elapsed deadlines. It is called from the timer's own goroutine
// and is expected to hand the event to the session inbox.
type FireFunc func(Fired)

type pending struct {
	timer clockwork.Timer
	stop  chan struct{}
}

type sessionTimers struct {
	round   *pending
	turn    *pending
	turnGen uint64
}

// Authority owns the round and turn deadlines of every live session.
type Authority struct {
	clock clockwork.Clock

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionTimers
}

func NewAuthority(clock clockwork.Clock) *Authority {
	return &Authority{
		clock:    clock,
		sessions: make(map[uuid.UUID]*sessionTimers),
	}
}

// StartRound schedules the one-shot round deadline. It is never rescheduled.
func (a *Authority) StartRound(sessionID uuid.UUID, limit time.Duration, fire FireFunc) (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.entry(sessionID)
	if st.round != nil {
		return time.Time{}, ErrRoundAlreadyStarted
	}

	deadline := a.clock.Now().Add(limit)
	st.round = a.arm(sessionID, RoundExpired, 0, limit, deadline, fire)

	log.Debug().
		Str("session_id", sessionID.String()).
		Time("deadline", deadline).
		Msg("round timer started")
	return deadline, nil
}

// StartTurn schedules the turn deadline, replacing any pending one.
func (a *Authority) StartTurn(sessionID uuid.UUID, limit time.Duration, fire FireFunc) (time.Time, uint64) {
	return a.ResetTurn(sessionID, limit, fire)
}

// ResetTurn cancels the pending turn timer (if any) and arms a new one.
// The returned generation identifies the new timer.
func (a *Authority) ResetTurn(sessionID uuid.UUID, limit time.Duration, fire FireFunc) (time.Time, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.entry(sessionID)
	if st.turn != nil {
		cancelPending(st.turn)
		st.turn = nil
	}

	st.turnGen++
	deadline := a.clock.Now().Add(limit)
	st.turn = a.arm(sessionID, TurnTimedOut, st.turnGen, limit, deadline, fire)

	log.Debug().
		Str("session_id", sessionID.String()).
		Uint64("gen", st.turnGen).
		Time("deadline", deadline).
		Msg("turn timer armed")
	return deadline, st.turnGen
}

// CancelAll releases both timers of a session. Safe to call more than once.
func (a *Authority) CancelAll(sessionID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.sessions[sessionID]
	if !ok {
		return
	}
	if st.round != nil {
		cancelPending(st.round)
	}
	if st.turn != nil {
		cancelPending(st.turn)
	}
	delete(a.sessions, sessionID)

	log.Debug().Str("session_id", sessionID.String()).Msg("cancelled session timers")
}

// Pending returns the number of sessions with at least one live timer.
func (a *Authority) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func (a *Authority) entry(sessionID uuid.UUID) *sessionTimers {
	st, ok := a.sessions[sessionID]
	if !ok {
		st = &sessionTimers{}
		a.sessions[sessionID] = st
	}
	return st
}

// arm must be called with a.mu held.
func (a *Authority) arm(sessionID uuid.UUID, kind Kind, gen uint64, limit time.Duration, deadline time.Time, fire FireFunc) *pending {
	p := &pending{
		timer: a.clock.NewTimer(limit),
		stop:  make(chan struct{}),
	}

	go func() {
		select {
		case <-p.timer.Chan():
			if !a.release(sessionID, p) {
				return
			}
			fire(Fired{SessionID: sessionID, Kind: kind, Deadline: deadline, Gen: gen})
		case <-p.stop:
		}
	}()

	return p
}

// release forgets a turn timer that has fired. It reports false when the timer
// was cancelled or replaced before the fire could be claimed.
func (a *Authority) release(sessionID uuid.UUID, p *pending) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-p.stop:
		return false
	default:
	}

	if st, ok := a.sessions[sessionID]; ok && st.turn == p {
		st.turn = nil
	}
	return true
}

// cancelPending must be called with a.mu held.
func cancelPending(p *pending) {
	select {
	case <-p.stop:
		return
	default:
	}
	close(p.stop)
	stopAndDrainTimer(p.timer)
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
