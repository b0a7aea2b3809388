package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/turingchat/go/internal/fairness"
	"github.com/mcdev12/turingchat/go/internal/protocol"
)

var (
	ErrOutOfTurn          = errors.New("out of turn")
	ErrAlreadyTerminal    = errors.New("session already terminal")
	ErrSessionNotFound    = errors.New("session not found")
	ErrNotParticipant     = errors.New("not a participant of this session")
	ErrNotStarted         = errors.New("match has not started")
	ErrSeatTaken          = errors.New("seat already attached")
	ErrInvariantViolation = errors.New("session invariant violation")

	errEmptyReply = errors.New("responder returned empty reply")
)

// Status is the session state machine position.
type Status int

const (
	StatusCreated Status = iota
	StatusCommitted
	StatusActive
	StatusGuessedCorrect
	StatusGuessedWrong
	StatusTimedOut
	StatusRoundExpired
	StatusRevealed
	StatusClosed
)

var statusNames = map[Status]string{
	StatusCreated:        "created",
	StatusCommitted:      "committed",
	StatusActive:         "active",
	StatusGuessedCorrect: "guessed_correct",
	StatusGuessedWrong:   "guessed_wrong",
	StatusTimedOut:       "timed_out",
	StatusRoundExpired:   "round_expired",
	StatusRevealed:       "revealed",
	StatusClosed:         "closed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the session has left the playing states.
func (s Status) Terminal() bool {
	return s >= StatusGuessedCorrect
}

// Outcome maps a terminal status to the outcome reported to participants.
func (s Status) Outcome() protocol.Outcome {
	switch s {
	case StatusGuessedCorrect:
		return protocol.OutcomeGuessedCorrect
	case StatusGuessedWrong:
		return protocol.OutcomeGuessedWrong
	case StatusTimedOut:
		return protocol.OutcomeTimedOut
	default:
		return protocol.OutcomeRoundExpired
	}
}

// Seat is a position in a session. SeatA always moves first.
type Seat int

const (
	SeatA Seat = iota
	SeatB
)

func (s Seat) String() string {
	if s == SeatA {
		return "a"
	}
	return "b"
}

func (s Seat) other() Seat {
	if s == SeatA {
		return SeatB
	}
	return SeatA
}

func (s Seat) valid() bool {
	return s == SeatA || s == SeatB
}

// Participant occupies a seat. The AI opponent is a participant with Human false.
type Participant struct {
	Token string
	Human bool
}

// Transport delivers frames to one connected participant.
type Transport interface {
	Send(f protocol.Frame) error
	Close() error
}

// TurnEvent records who spoke and when. Content is never retained.
type TurnEvent struct {
	Seat Seat      `json:"seat"`
	At   time.Time `json:"at"`
}

// ConversationContext is handed to the Responder on the AI seat's turn.
type ConversationContext struct {
	SessionID    uuid.UUID
	Turns        []TurnEvent
	LastMessage  string
	TurnDeadline time.Time
}

// Reply is the Responder's answer: opaque text plus a scheduling hint.
type Reply struct {
	Text  string
	Delay time.Duration
}

// Responder produces the AI seat's next message.
type Responder interface {
	Respond(ctx context.Context, convo ConversationContext) (Reply, error)
}

// Config holds session timing.
type Config struct {
	RoundLimit       time.Duration
	TurnLimit        time.Duration
	AttachWindow     time.Duration
	ResponderTimeout time.Duration
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		RoundLimit:       300 * time.Second,
		TurnLimit:        30 * time.Second,
		AttachWindow:     20 * time.Second,
		ResponderTimeout: 10 * time.Second,
	}
}

// SeatResult is the final score assigned to one seat.
type SeatResult struct {
	Seat       Seat
	Token      string
	Human      bool
	ScoreDelta int
}

// Summary describes a closed session. It is handed to observers after close.
type Summary struct {
	SessionID   uuid.UUID
	Commit      fairness.CommitRecord
	Status      Status
	Outcome     protocol.Outcome
	Reason      string
	Seats       []SeatResult
	Turns       []TurnEvent
	CreatedAt   time.Time
	CommittedAt time.Time
	ClosedAt    time.Time
}

// MatchInfo describes a newly created session. It never carries the opponent type.
type MatchInfo struct {
	SessionID  uuid.UUID
	CommitHash string
	Tokens     []string
	CreatedAt  time.Time
}

// Observer is notified of session lifecycle changes. Calls happen off the
// session goroutine.
type Observer interface {
	MatchCreated(info MatchInfo)
	MatchClosed(summary Summary)
}

// Reasons attached to results.
const (
	ReasonGuess            = "guess"
	ReasonTurnTimeout      = "turn_timeout"
	ReasonResponderFailure = "responder_failure"
	ReasonRoundLimit       = "round_limit"
	ReasonDisconnect       = "disconnect"
	ReasonNoShow           = "no_show"
	ReasonInternalError    = "internal_error"
)
