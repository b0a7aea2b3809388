package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/session"
)

const publishTimeout = 5 * time.Second

// Emitter turns session lifecycle callbacks into published events.
type Emitter struct {
	publisher Publisher
	timeout   time.Duration
}

func NewEmitter(p Publisher) *Emitter {
	return &Emitter{publisher: p, timeout: publishTimeout}
}

func (e *Emitter) MatchCreated(info session.MatchInfo) {
	e.emit(TypeMatchCreated, info.SessionID, info.CreatedAt, MatchCreatedPayload{
		SessionID:  info.SessionID.String(),
		CommitHash: info.CommitHash,
		Humans:     len(info.Tokens),
		CreatedAt:  info.CreatedAt.UTC(),
	})
}

func (e *Emitter) MatchClosed(sum session.Summary) {
	payload := MatchClosedPayload{
		SessionID:    sum.SessionID.String(),
		CommitHash:   sum.Commit.Hash,
		OpponentType: string(sum.Commit.OpponentType),
		Nonce:        sum.Commit.Nonce,
		Timestamp:    sum.Commit.Timestamp,
		Outcome:      string(sum.Outcome),
		Reason:       sum.Reason,
		Turns:        len(sum.Turns),
		ClosedAt:     sum.ClosedAt.UTC(),
		Duration:     sum.ClosedAt.Sub(sum.CreatedAt).Round(time.Millisecond).String(),
	}
	for _, s := range sum.Seats {
		payload.Scores = append(payload.Scores, SeatScore{
			Seat:       s.Seat.String(),
			Human:      s.Human,
			ScoreDelta: s.ScoreDelta,
		})
	}
	e.emit(TypeMatchClosed, sum.SessionID, sum.ClosedAt, payload)
}

func (e *Emitter) emit(eventType string, sessionID uuid.UUID, at time.Time, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal match event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	event := Event{
		ID:         uuid.New(),
		EventType:  eventType,
		SessionID:  sessionID,
		OccurredAt: at,
		Payload:    data,
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("event_type", eventType).
			Str("session_id", sessionID.String()).
			Msg("failed to publish match event")
	}
}
