package db

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

//go:embed schema.sql
var Schema string

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Match struct {
	ID           uuid.UUID
	CommitHash   string
	OpponentType string
	Nonce        string
	CommitTsMs   int64
	Outcome      string
	Reason       string
	TurnCount    int32
	Turns        pqtype.NullRawMessage
	CreatedAt    time.Time
	CommittedAt  sql.NullTime
	ClosedAt     time.Time
}

type MatchScore struct {
	MatchID          uuid.UUID
	Seat             string
	ParticipantToken string
	Human            bool
	ScoreDelta       int32
}

const insertMatch = `
INSERT INTO matches (
    id, commit_hash, opponent_type, nonce, commit_ts_ms, outcome, reason,
    turn_count, turns, created_at, committed_at, closed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO NOTHING`

func (q *Queries) InsertMatch(ctx context.Context, arg Match) error {
	_, err := q.db.ExecContext(ctx, insertMatch,
		arg.ID,
		arg.CommitHash,
		arg.OpponentType,
		arg.Nonce,
		arg.CommitTsMs,
		arg.Outcome,
		arg.Reason,
		arg.TurnCount,
		arg.Turns,
		arg.CreatedAt,
		arg.CommittedAt,
		arg.ClosedAt,
	)
	return err
}

const insertMatchScore = `
INSERT INTO match_scores (match_id, seat, participant_token, human, score_delta)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (match_id, seat) DO NOTHING`

func (q *Queries) InsertMatchScore(ctx context.Context, arg MatchScore) error {
	_, err := q.db.ExecContext(ctx, insertMatchScore,
		arg.MatchID,
		arg.Seat,
		arg.ParticipantToken,
		arg.Human,
		arg.ScoreDelta,
	)
	return err
}

const getMatch = `
SELECT id, commit_hash, opponent_type, nonce, commit_ts_ms, outcome, reason,
       turn_count, turns, created_at, committed_at, closed_at
FROM matches WHERE id = $1`

func (q *Queries) GetMatch(ctx context.Context, id uuid.UUID) (Match, error) {
	row := q.db.QueryRowContext(ctx, getMatch, id)
	var i Match
	err := row.Scan(
		&i.ID,
		&i.CommitHash,
		&i.OpponentType,
		&i.Nonce,
		&i.CommitTsMs,
		&i.Outcome,
		&i.Reason,
		&i.TurnCount,
		&i.Turns,
		&i.CreatedAt,
		&i.CommittedAt,
		&i.ClosedAt,
	)
	return i, err
}

const listMatchScores = `
SELECT match_id, seat, participant_token, human, score_delta
FROM match_scores WHERE match_id = $1 ORDER BY seat`

func (q *Queries) ListMatchScores(ctx context.Context, matchID uuid.UUID) ([]MatchScore, error) {
	rows, err := q.db.QueryContext(ctx, listMatchScores, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MatchScore
	for rows.Next() {
		var i MatchScore
		if err := rows.Scan(
			&i.MatchID,
			&i.Seat,
			&i.ParticipantToken,
			&i.Human,
			&i.ScoreDelta,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const sumScoreByToken = `
SELECT COALESCE(SUM(score_delta), 0)::BIGINT FROM match_scores WHERE participant_token = $1`

func (q *Queries) SumScoreByToken(ctx context.Context, token string) (int64, error) {
	row := q.db.QueryRowContext(ctx, sumScoreByToken, token)
	var total int64
	err := row.Scan(&total)
	return total, err
}
