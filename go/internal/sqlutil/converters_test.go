package sqlutil

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNullTime(t *testing.T) {
	assert.False(t, NullTime(time.Time{}).Valid)

	now := time.Unix(1700000000, 0)
	nt := NullTime(now)
	assert.True(t, nt.Valid)
	assert.Equal(t, now, TimeOrZero(nt))
	assert.True(t, TimeOrZero(sql.NullTime{}).IsZero())
}

func TestNullJSON(t *testing.T) {
	assert.False(t, NullJSON(nil).Valid)
	assert.True(t, NullJSON(json.RawMessage(`[]`)).Valid)
}
