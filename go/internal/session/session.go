package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/fairness"
	"github.com/mcdev12/turingchat/go/internal/protocol"
	"github.com/mcdev12/turingchat/go/internal/timers"
)

// Score deltas. No other values are ever produced.
const (
	ScoreCorrectGuess    = 100
	ScoreWrongGuess      = -200
	ScoreOpponentTimeout = 100
)

// replyMargin keeps a delayed AI reply clear of its own turn deadline.
const replyMargin = time.Second

type attachEvent struct {
	seat      Seat
	transport Transport
	reply     chan error
}

type frameEvent struct {
	seat  Seat
	frame protocol.Frame
	reply chan error
}

type disconnectEvent struct {
	seat Seat
}

type firedEvent struct {
	fired timers.Fired
}

type replyEvent struct {
	gen   uint64
	reply Reply
	err   error
}

type attachExpiredEvent struct{}

type seatState struct {
	participant Participant
	transport   Transport
}

type deps struct {
	cfg       Config
	clock     clockwork.Clock
	timers    *timers.Authority
	responder Responder
}

// Session owns one match. Every state change runs on the session goroutine,
// fed by an unbuffered inbox, so events are applied strictly one at a time.
type Session struct {
	id      uuid.UUID
	commit  fairness.CommitRecord
	deps    deps
	onClose func(Summary)

	inbox  chan any
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	// owned by the run goroutine
	seats         [2]seatState
	status        Status
	turn          Seat
	roundDeadline time.Time
	turnDeadline  time.Time
	turnGen       uint64
	turns         []TurnEvent
	lastMessage   string
	createdAt     time.Time
	committedAt   time.Time
	attachTimer   clockwork.Timer

	resultSent bool
	outcome    protocol.Outcome
	reason     string
	deltas     [2]int
}

func newSession(id uuid.UUID, commit fairness.CommitRecord, participants [2]Participant, d deps, onClose func(Summary)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		commit:  commit,
		deps:    d,
		onClose: onClose,
		inbox:   make(chan any),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusCreated,
		turn:    SeatA,
	}
	for i, p := range participants {
		s.seats[i].participant = p
	}
	return s
}

func (s *Session) start() {
	s.createdAt = s.deps.clock.Now()
	if s.deps.cfg.AttachWindow > 0 {
		s.attachTimer = s.deps.clock.AfterFunc(s.deps.cfg.AttachWindow, func() {
			s.post(attachExpiredEvent{})
		})
	}
	go s.run()
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// CommitHash returns the commitment sent to participants before any message.
func (s *Session) CommitHash() string { return s.commit.Hash }

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Attach connects a participant's transport to its seat. The match starts once
// every human seat is attached.
func (s *Session) Attach(seat Seat, t Transport) error {
	reply := make(chan error, 1)
	return s.call(attachEvent{seat: seat, transport: t, reply: reply}, reply)
}

// Submit applies an inbound frame from seat.
func (s *Session) Submit(seat Seat, f protocol.Frame) error {
	reply := make(chan error, 1)
	return s.call(frameEvent{seat: seat, frame: f, reply: reply}, reply)
}

// Disconnect forces the session to end because seat's transport went away.
func (s *Session) Disconnect(seat Seat) {
	s.post(disconnectEvent{seat: seat})
}

func (s *Session) call(ev any, reply chan error) error {
	if !s.post(ev) {
		return ErrAlreadyTerminal
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrAlreadyTerminal
		}
	}
}

func (s *Session) post(ev any) bool {
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) fire(f timers.Fired) {
	s.post(firedEvent{fired: f})
}

func (s *Session) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("session_id", s.id.String()).
				Str("status", s.status.String()).
				Interface("panic", r).
				Msg("session failed, force closing")
			s.forceClose()
		}
	}()

	for s.status != StatusClosed {
		s.handle(<-s.inbox)
	}
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case attachEvent:
		ev.reply <- s.attach(ev.seat, ev.transport)
	case frameEvent:
		ev.reply <- s.handleFrame(ev.seat, ev.frame)
	case disconnectEvent:
		s.disconnect(ev.seat)
	case firedEvent:
		s.handleFired(ev.fired)
	case replyEvent:
		s.handleReply(ev)
	case attachExpiredEvent:
		if s.status == StatusCreated {
			log.Info().Str("session_id", s.id.String()).Msg("participants did not attach in time")
			s.finish(StatusRoundExpired, ReasonNoShow, SeatA)
		}
	default:
		panic(fmt.Errorf("%w: unexpected event %T", ErrInvariantViolation, ev))
	}
}

func (s *Session) isHuman(seat Seat) bool {
	return seat.valid() && s.seats[seat].participant.Human
}

func (s *Session) playing() bool {
	return s.status == StatusCommitted || s.status == StatusActive
}

func (s *Session) attach(seat Seat, t Transport) error {
	if !s.isHuman(seat) {
		return ErrNotParticipant
	}
	if s.status != StatusCreated || s.seats[seat].transport != nil {
		return ErrSeatTaken
	}
	s.seats[seat].transport = t

	log.Debug().
		Str("session_id", s.id.String()).
		Int("seat", int(seat)).
		Msg("participant attached")

	for _, st := range s.seats {
		if st.participant.Human && st.transport == nil {
			return nil
		}
	}
	s.begin()
	return nil
}

// begin moves the session to committed: the commitment goes out and the round clock starts.
func (s *Session) begin() {
	if s.attachTimer != nil {
		s.attachTimer.Stop()
	}

	deadline, err := s.deps.timers.StartRound(s.id, s.deps.cfg.RoundLimit, s.fire)
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrInvariantViolation, err))
	}
	s.roundDeadline = deadline
	s.committedAt = s.deps.clock.Now()
	s.status = StatusCommitted
	s.turn = SeatA

	for seat := range s.seats {
		s.send(Seat(seat), protocol.MatchStart{
			SessionID:  s.id,
			CommitHash: s.commit.Hash,
			RoundSecs:  int(s.deps.cfg.RoundLimit.Seconds()),
			TurnSecs:   int(s.deps.cfg.TurnLimit.Seconds()),
			YourTurn:   Seat(seat) == SeatA,
		})
	}

	log.Info().
		Str("session_id", s.id.String()).
		Str("commit_hash", s.commit.Hash).
		Time("round_deadline", deadline).
		Msg("match committed")

	if !s.isHuman(SeatA) {
		s.requestReply()
	}
}

func (s *Session) handleFrame(seat Seat, f protocol.Frame) error {
	if !s.isHuman(seat) {
		return ErrNotParticipant
	}

	switch f.(type) {
	case protocol.State:
		s.send(seat, s.snapshot(seat))
		return nil
	case protocol.Typing:
		if s.playing() {
			s.send(seat.other(), protocol.Typing{})
		}
		return nil
	}

	if s.status == StatusCreated {
		return ErrNotStarted
	}

	switch f := f.(type) {
	case protocol.Turn:
		if seat != s.turn {
			return ErrOutOfTurn
		}
		s.takeTurn(seat, f.Text)
		return nil
	case protocol.Guess:
		s.guess(seat, fairness.OpponentType(f.Value))
		return nil
	default:
		return fmt.Errorf("%w: %s", protocol.ErrMalformedFrame, f.Kind())
	}
}

func (s *Session) takeTurn(seat Seat, text string) {
	now := s.deps.clock.Now()
	s.turns = append(s.turns, TurnEvent{Seat: seat, At: now})
	s.lastMessage = text
	s.send(seat.other(), protocol.Turn{Text: text, Sender: protocol.SenderOpponent, Timestamp: now})

	if s.status == StatusCommitted {
		s.status = StatusActive
	}
	s.turn = seat.other()
	s.turnDeadline, s.turnGen = s.deps.timers.ResetTurn(s.id, s.deps.cfg.TurnLimit, s.fire)

	if !s.isHuman(s.turn) {
		s.requestReply()
	}
}

func (s *Session) guess(seat Seat, value fairness.OpponentType) {
	opponent := s.commit.OpponentType
	if value == opponent {
		s.finish(StatusGuessedCorrect, ReasonGuess, seat)
		return
	}
	s.finish(StatusGuessedWrong, ReasonGuess, seat)
}

// requestReply asks the responder for the AI seat's message off the session goroutine.
func (s *Session) requestReply() {
	s.send(s.turn.other(), protocol.Typing{})

	convo := ConversationContext{
		SessionID:    s.id,
		Turns:        slices.Clone(s.turns),
		LastMessage:  s.lastMessage,
		TurnDeadline: s.turnDeadline,
	}
	go s.awaitReply(s.turnGen, convo)
}

func (s *Session) awaitReply(gen uint64, convo ConversationContext) {
	reply, err := s.callResponder(convo)
	if err == nil && reply.Delay > 0 {
		delay := reply.Delay
		if !convo.TurnDeadline.IsZero() {
			if latest := convo.TurnDeadline.Sub(s.deps.clock.Now()) - replyMargin; delay > latest {
				delay = latest
			}
		}
		if delay > 0 {
			select {
			case <-s.deps.clock.After(delay):
			case <-s.ctx.Done():
				return
			}
		}
	}
	s.post(replyEvent{gen: gen, reply: reply, err: err})
}

func (s *Session) callResponder(convo ConversationContext) (reply Reply, err error) {
	ctx, cancel := s.ctx, context.CancelFunc(func() {})
	if s.deps.cfg.ResponderTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.deps.cfg.ResponderTimeout)
	}
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panic: %v", r)
		}
	}()

	reply, err = s.deps.responder.Respond(ctx, convo)
	if err == nil && strings.TrimSpace(reply.Text) == "" {
		err = errEmptyReply
	}
	return reply, err
}

func (s *Session) handleReply(ev replyEvent) {
	if !s.playing() || ev.gen != s.turnGen || s.isHuman(s.turn) {
		log.Debug().Str("session_id", s.id.String()).Uint64("gen", ev.gen).Msg("discarding stale reply")
		return
	}
	if ev.err != nil {
		log.Warn().Err(ev.err).Str("session_id", s.id.String()).Msg("responder failed, treating as turn timeout")
		s.finish(StatusTimedOut, ReasonResponderFailure, s.turn)
		return
	}
	s.takeTurn(s.turn, ev.reply.Text)
}

func (s *Session) handleFired(f timers.Fired) {
	if !s.playing() {
		return
	}

	switch f.Kind {
	case timers.RoundExpired:
		s.finish(StatusRoundExpired, ReasonRoundLimit, s.turn)
	case timers.TurnTimedOut:
		if f.Gen != s.turnGen {
			log.Debug().Str("session_id", s.id.String()).Uint64("gen", f.Gen).Msg("discarding stale turn expiry")
			return
		}
		// The round deadline is the outer bound and wins a tie.
		if !s.deps.clock.Now().Before(s.roundDeadline) {
			s.finish(StatusRoundExpired, ReasonRoundLimit, s.turn)
			return
		}
		s.finish(StatusTimedOut, ReasonTurnTimeout, s.turn)
	}
}

func (s *Session) disconnect(seat Seat) {
	if !s.isHuman(seat) || s.status.Terminal() {
		return
	}
	s.seats[seat].transport = nil

	log.Info().
		Str("session_id", s.id.String()).
		Int("seat", int(seat)).
		Msg("participant disconnected")
	s.finish(StatusRoundExpired, ReasonDisconnect, seat)
}

// finish performs the single terminal transition. actor is the guesser for
// guesses and the silent seat for timeouts.
func (s *Session) finish(terminal Status, reason string, actor Seat) {
	s.status = terminal
	s.release()

	s.outcome = terminal.Outcome()
	s.reason = reason
	s.deltas = s.score(terminal, actor)
	s.resultSent = true
	for seat := range s.seats {
		if s.isHuman(Seat(seat)) {
			s.send(Seat(seat), protocol.Result{Outcome: s.outcome, ScoreDelta: s.deltas[seat], Reason: reason})
		}
	}

	rev, err := fairness.Reveal(s.commit, s.status.Terminal())
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrInvariantViolation, err))
	}
	for seat := range s.seats {
		s.send(Seat(seat), protocol.Reveal{
			OpponentType: string(rev.OpponentType),
			Nonce:        rev.Nonce,
			Timestamp:    rev.Timestamp,
		})
	}
	s.status = StatusRevealed

	log.Info().
		Str("session_id", s.id.String()).
		Str("outcome", string(s.outcome)).
		Str("reason", reason).
		Msg("match finished")

	s.close(terminal)
}

func (s *Session) score(terminal Status, actor Seat) [2]int {
	var deltas [2]int
	switch terminal {
	case StatusGuessedCorrect:
		deltas[actor] = ScoreCorrectGuess
	case StatusGuessedWrong:
		deltas[actor] = ScoreWrongGuess
	case StatusTimedOut:
		for seat := range s.seats {
			if Seat(seat) != actor && s.isHuman(Seat(seat)) {
				deltas[seat] = ScoreOpponentTimeout
			}
		}
	}
	return deltas
}

func (s *Session) release() {
	s.deps.timers.CancelAll(s.id)
	if s.attachTimer != nil {
		s.attachTimer.Stop()
	}
	s.cancel()
}

func (s *Session) close(terminal Status) {
	for i := range s.seats {
		if t := s.seats[i].transport; t != nil {
			if err := t.Close(); err != nil {
				log.Debug().Err(err).Str("session_id", s.id.String()).Msg("failed to close transport")
			}
			s.seats[i].transport = nil
		}
	}
	s.status = StatusClosed
	s.onClose(s.summary(terminal))
}

// forceClose ends a session after a panic. It never sends a second result.
func (s *Session) forceClose() {
	if s.status == StatusClosed {
		return
	}
	terminal := s.status
	if !terminal.Terminal() || terminal == StatusRevealed || terminal == StatusClosed {
		terminal = StatusRoundExpired
	}

	s.release()
	if !s.resultSent {
		s.outcome = terminal.Outcome()
		s.reason = ReasonInternalError
		s.resultSent = true
		for seat := range s.seats {
			if t := s.seats[seat].transport; t != nil {
				_ = safeSend(t, protocol.Result{Outcome: s.outcome, Reason: ReasonInternalError})
			}
		}
	}
	for i := range s.seats {
		if t := s.seats[i].transport; t != nil {
			_ = safeSend(t, protocol.NewError(protocol.ErrAlreadyTerminal, "session closed"))
			_ = safeClose(t)
			s.seats[i].transport = nil
		}
	}
	s.status = StatusClosed

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("session_id", s.id.String()).Interface("panic", r).Msg("close hook failed")
			}
		}()
		s.onClose(s.summary(terminal))
	}()
}

func (s *Session) summary(terminal Status) Summary {
	sum := Summary{
		SessionID:   s.id,
		Commit:      s.commit,
		Status:      terminal,
		Outcome:     s.outcome,
		Reason:      s.reason,
		Turns:       slices.Clone(s.turns),
		CreatedAt:   s.createdAt,
		CommittedAt: s.committedAt,
		ClosedAt:    s.deps.clock.Now(),
	}
	for i, st := range s.seats {
		sum.Seats = append(sum.Seats, SeatResult{
			Seat:       Seat(i),
			Token:      st.participant.Token,
			Human:      st.participant.Human,
			ScoreDelta: s.deltas[i],
		})
	}
	return sum
}

func (s *Session) snapshot(seat Seat) protocol.State {
	now := s.deps.clock.Now()
	st := protocol.State{Status: s.status.String()}
	if !s.roundDeadline.IsZero() {
		st.RoundLeft = max(0, s.roundDeadline.Sub(now).Seconds())
	}
	if s.status == StatusActive {
		st.TurnLeft = max(0, s.turnDeadline.Sub(now).Seconds())
	}
	st.YourTurn = s.playing() && s.turn == seat
	return st
}

func (s *Session) send(seat Seat, f protocol.Frame) {
	t := s.seats[seat].transport
	if t == nil {
		return
	}
	if err := t.Send(f); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", s.id.String()).
			Int("seat", int(seat)).
			Str("frame", string(f.Kind())).
			Msg("failed to deliver frame")
	}
}

func safeSend(t Transport, f protocol.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return t.Send(f)
}

func safeClose(t Transport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return t.Close()
}
