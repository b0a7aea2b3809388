package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags a frame on the wire.
type Kind string

const (
	KindMatchStart Kind = "match_start"
	KindTurn       Kind = "turn"
	KindTyping     Kind = "typing"
	KindGuess      Kind = "guess"
	KindResult     Kind = "result"
	KindReveal     Kind = "reveal"
	KindError      Kind = "error"
	KindState      Kind = "state"
)

// Frame is implemented only by the frame types in this package.
type Frame interface {
	Kind() Kind
	frame()
}

// Sender values as seen by the receiving participant.
const (
	SenderYou      = "you"
	SenderOpponent = "opponent"
)

// Outcome values carried by Result.
type Outcome string

const (
	OutcomeGuessedCorrect Outcome = "GuessedCorrect"
	OutcomeGuessedWrong   Outcome = "GuessedWrong"
	OutcomeTimedOut       Outcome = "TimedOut"
	OutcomeRoundExpired   Outcome = "RoundExpired"
)

// ErrorKind values carried by Error.
type ErrorKind string

const (
	ErrOutOfTurn       ErrorKind = "OutOfTurn"
	ErrAlreadyTerminal ErrorKind = "AlreadyTerminal"
	ErrSessionNotFound ErrorKind = "SessionNotFound"
	ErrInvalidTicket   ErrorKind = "InvalidTicket"
	ErrInvalidFrame    ErrorKind = "InvalidFrame"
	ErrNotParticipant  ErrorKind = "NotParticipant"
)

// MatchStart is sent once per participant when the session is committed.
type MatchStart struct {
	SessionID  uuid.UUID `json:"session_id"`
	CommitHash string    `json:"commit_hash"`
	RoundSecs  int       `json:"round_secs"`
	TurnSecs   int       `json:"turn_secs"`
	YourTurn   bool      `json:"your_turn"`
}

// Turn is one conversational message. Inbound frames only carry Text.
type Turn struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

type Typing struct{}

type Guess struct {
	Value string `json:"value"`
}

type Result struct {
	Outcome    Outcome `json:"outcome"`
	ScoreDelta int     `json:"score_delta"`
	Reason     string  `json:"reason,omitempty"`
}

type Reveal struct {
	OpponentType string `json:"opponent_type"`
	Nonce        string `json:"nonce"`
	Timestamp    int64  `json:"timestamp"`
}

type Error struct {
	ErrorKind ErrorKind `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// State is a snapshot request inbound (empty) and a snapshot reply outbound.
type State struct {
	Status    string  `json:"status,omitempty"`
	RoundLeft float64 `json:"round_left,omitempty"`
	TurnLeft  float64 `json:"turn_left,omitempty"`
	YourTurn  bool    `json:"your_turn,omitempty"`
}

func (MatchStart) Kind() Kind { return KindMatchStart }
func (Turn) Kind() Kind       { return KindTurn }
func (Typing) Kind() Kind     { return KindTyping }
func (Guess) Kind() Kind      { return KindGuess }
func (Result) Kind() Kind     { return KindResult }
func (Reveal) Kind() Kind     { return KindReveal }
func (Error) Kind() Kind      { return KindError }
func (State) Kind() Kind      { return KindState }

func (MatchStart) frame() {}
func (Turn) frame()       {}
func (Typing) frame()     {}
func (Guess) frame()      {}
func (Result) frame()     {}
func (Reveal) frame()     {}
func (Error) frame()      {}
func (State) frame()      {}

// NewError builds an error frame.
func NewError(kind ErrorKind, detail string) Error {
	return Error{ErrorKind: kind, Detail: detail}
}
