package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/session"
)

var ErrMatchNotFound = errors.New("archived match not found")

// Record is a closed match as stored. It holds no message content.
type Record struct {
	ID           uuid.UUID           `json:"id"`
	CommitHash   string              `json:"commit_hash"`
	OpponentType string              `json:"opponent_type"`
	Nonce        string              `json:"nonce"`
	CommitTsMs   int64               `json:"commit_ts_ms"`
	Outcome      string              `json:"outcome"`
	Reason       string              `json:"reason"`
	Turns        []session.TurnEvent `json:"turns"`
	Scores       []Score             `json:"scores"`
	CreatedAt    time.Time           `json:"created_at"`
	CommittedAt  time.Time           `json:"committed_at"`
	ClosedAt     time.Time           `json:"closed_at"`
}

type Score struct {
	Seat       string `json:"seat"`
	Token      string `json:"token"`
	Human      bool   `json:"human"`
	ScoreDelta int    `json:"score_delta"`
}

// Store persists closed matches.
type Store interface {
	SaveMatch(ctx context.Context, rec Record) error
	GetMatch(ctx context.Context, id uuid.UUID) (Record, error)
	TotalScore(ctx context.Context, token string) (int64, error)
}

// RecordFromSummary converts a session summary into an archive record.
func RecordFromSummary(sum session.Summary) Record {
	rec := Record{
		ID:           sum.SessionID,
		CommitHash:   sum.Commit.Hash,
		OpponentType: string(sum.Commit.OpponentType),
		Nonce:        sum.Commit.Nonce,
		CommitTsMs:   sum.Commit.Timestamp,
		Outcome:      string(sum.Outcome),
		Reason:       sum.Reason,
		Turns:        sum.Turns,
		CreatedAt:    sum.CreatedAt.UTC(),
		CommittedAt:  sum.CommittedAt.UTC(),
		ClosedAt:     sum.ClosedAt.UTC(),
	}
	for _, s := range sum.Seats {
		if !s.Human {
			continue
		}
		rec.Scores = append(rec.Scores, Score{
			Seat:       s.Seat.String(),
			Token:      s.Token,
			Human:      s.Human,
			ScoreDelta: s.ScoreDelta,
		})
	}
	return rec
}

func encodeTurns(turns []session.TurnEvent) (json.RawMessage, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("marshal turns: %w", err)
	}
	return data, nil
}

// Archiver saves every closed session to a Store.
type Archiver struct {
	store   Store
	timeout time.Duration
}

func NewArchiver(store Store) *Archiver {
	return &Archiver{store: store, timeout: 5 * time.Second}
}

func (a *Archiver) MatchCreated(session.MatchInfo) {}

func (a *Archiver) MatchClosed(sum session.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.store.SaveMatch(ctx, RecordFromSummary(sum)); err != nil {
		log.Error().
			Err(err).
			Str("session_id", sum.SessionID.String()).
			Msg("failed to archive match")
		return
	}
	log.Debug().Str("session_id", sum.SessionID.String()).Msg("match archived")
}

// MemoryStore keeps records in process. Used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]Record)}
}

func (m *MemoryStore) SaveMatch(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		m.records[rec.ID] = rec
	}
	return nil
}

func (m *MemoryStore) GetMatch(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	return rec, nil
}

func (m *MemoryStore) TotalScore(_ context.Context, token string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, rec := range m.records {
		for _, s := range rec.Scores {
			if s.Token == token {
				total += int64(s.ScoreDelta)
			}
		}
	}
	return total, nil
}
