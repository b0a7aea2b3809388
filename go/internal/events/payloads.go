package events

import (
	"time"
)

// Event types published on the lifecycle stream.
const (
	TypeMatchCreated = "created"
	TypeMatchClosed  = "closed"
)

// MatchCreatedPayload is the payload for a created event. It never names the opponent type.
type MatchCreatedPayload struct {
	SessionID  string    `json:"session_id"`
	CommitHash string    `json:"commit_hash"`
	Humans     int       `json:"humans"`
	CreatedAt  time.Time `json:"created_at"`
}

// SeatScore is one seat's final score in a closed event.
type SeatScore struct {
	Seat       string `json:"seat"`
	Human      bool   `json:"human"`
	ScoreDelta int    `json:"score_delta"`
}

// MatchClosedPayload is the payload for a closed event
type MatchClosedPayload struct {
	SessionID    string      `json:"session_id"`
	CommitHash   string      `json:"commit_hash"`
	OpponentType string      `json:"opponent_type"`
	Nonce        string      `json:"nonce"`
	Timestamp    int64       `json:"timestamp"`
	Outcome      string      `json:"outcome"`
	Reason       string      `json:"reason"`
	Scores       []SeatScore `json:"scores"`
	Turns        int         `json:"turns"`
	ClosedAt     time.Time   `json:"closed_at"`
	Duration     string      `json:"duration"`
}
