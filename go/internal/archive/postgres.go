package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/archive/db"
	"github.com/mcdev12/turingchat/go/internal/session"
	"github.com/mcdev12/turingchat/go/internal/sqlutil"
)

// PostgresStore archives matches in Postgres through the pgx database/sql driver.
type PostgresStore struct {
	db      *sql.DB
	queries *db.Queries
}

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, db.Schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info().Msg("match archive connected")
	return &PostgresStore{db: conn, queries: db.New(conn)}, nil
}

func (p *PostgresStore) SaveMatch(ctx context.Context, rec Record) error {
	turns, err := encodeTurns(rec.Turns)
	if err != nil {
		return err
	}

	return sqlutil.Run(ctx, p.db, p.queries.WithTx, func(q *db.Queries) error {
		err := q.InsertMatch(ctx, db.Match{
			ID:           rec.ID,
			CommitHash:   rec.CommitHash,
			OpponentType: rec.OpponentType,
			Nonce:        rec.Nonce,
			CommitTsMs:   rec.CommitTsMs,
			Outcome:      rec.Outcome,
			Reason:       rec.Reason,
			TurnCount:    int32(len(rec.Turns)),
			Turns:        sqlutil.NullJSON(turns),
			CreatedAt:    rec.CreatedAt,
			CommittedAt:  sqlutil.NullTime(rec.CommittedAt),
			ClosedAt:     rec.ClosedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to insert match: %w", err)
		}

		for _, s := range rec.Scores {
			err := q.InsertMatchScore(ctx, db.MatchScore{
				MatchID:          rec.ID,
				Seat:             s.Seat,
				ParticipantToken: s.Token,
				Human:            s.Human,
				ScoreDelta:       int32(s.ScoreDelta),
			})
			if err != nil {
				return fmt.Errorf("failed to insert score for seat %s: %w", s.Seat, err)
			}
		}
		return nil
	})
}

// GetMatch loads a match with its human score rows.
func (p *PostgresStore) GetMatch(ctx context.Context, id uuid.UUID) (Record, error) {
	m, err := p.queries.GetMatch(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get match: %w", err)
	}

	rec := Record{
		ID:           m.ID,
		CommitHash:   m.CommitHash,
		OpponentType: m.OpponentType,
		Nonce:        m.Nonce,
		CommitTsMs:   m.CommitTsMs,
		Outcome:      m.Outcome,
		Reason:       m.Reason,
		CreatedAt:    m.CreatedAt,
		CommittedAt:  sqlutil.TimeOrZero(m.CommittedAt),
		ClosedAt:     m.ClosedAt,
	}
	if m.Turns.Valid {
		var turns []session.TurnEvent
		if err := json.Unmarshal(m.Turns.RawMessage, &turns); err != nil {
			return Record{}, fmt.Errorf("failed to decode turns: %w", err)
		}
		rec.Turns = turns
	}

	scores, err := p.queries.ListMatchScores(ctx, id)
	if err != nil {
		return Record{}, fmt.Errorf("failed to list scores: %w", err)
	}
	for _, s := range scores {
		rec.Scores = append(rec.Scores, Score{
			Seat:       s.Seat,
			Token:      s.ParticipantToken,
			Human:      s.Human,
			ScoreDelta: int(s.ScoreDelta),
		})
	}
	return rec, nil
}

func (p *PostgresStore) TotalScore(ctx context.Context, token string) (int64, error) {
	total, err := p.queries.SumScoreByToken(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("failed to sum scores: %w", err)
	}
	return total, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
