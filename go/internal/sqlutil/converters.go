package sqlutil

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go values and nullable column types

// NullTime treats the zero time as NULL.
func NullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// TimeOrZero converts sql.NullTime back, using the zero time for NULL.
func TimeOrZero(val sql.NullTime) time.Time {
	if !val.Valid {
		return time.Time{}
	}
	return val.Time
}

// NullJSON treats an empty document as NULL.
func NullJSON(raw json.RawMessage) pqtype.NullRawMessage {
	return pqtype.NullRawMessage{RawMessage: raw, Valid: len(raw) > 0}
}
