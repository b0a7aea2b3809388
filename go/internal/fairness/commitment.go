package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/jonboulle/clockwork"
)

// OpponentType is the committed identity of the opponent seat.
type OpponentType string

const (
	OpponentHuman OpponentType = "human"
	OpponentAI    OpponentType = "ai"
)

// Valid reports whether t is one of the known opponent types.
func (t OpponentType) Valid() bool {
	return t == OpponentHuman || t == OpponentAI
}

const nonceBytes = 16

var (
	// ErrPrematureReveal is returned when a reveal is requested for a session
	// that has not reached a terminal state.
	ErrPrematureReveal = errors.New("reveal requested before terminal state")
	ErrInvalidOpponent = errors.New("invalid opponent type")
)

// CommitRecord is immutable once created. Only Hash leaves the server before reveal.
type CommitRecord struct {
	OpponentType OpponentType
	Nonce        string
	Timestamp    int64 // unix milliseconds
	Hash         string
}

// Revelation is the triple a client needs to recompute the hash.
type Revelation struct {
	OpponentType OpponentType `json:"opponent_type"`
	Nonce        string       `json:"nonce"`
	Timestamp    int64        `json:"timestamp"`
}

// Committer creates commit records using a clock and an entropy source.
type Committer struct {
	clock   clockwork.Clock
	entropy io.Reader
}

// NewCommitter returns a Committer backed by crypto/rand.
func NewCommitter(clock clockwork.Clock) *Committer {
	return &Committer{clock: clock, entropy: rand.Reader}
}

// NewCommitterWithEntropy is used by tests that need deterministic nonces.
func NewCommitterWithEntropy(clock clockwork.Clock, entropy io.Reader) *Committer {
	return &Committer{clock: clock, entropy: entropy}
}

// Commit binds the opponent type before any message is exchanged.
func (c *Committer) Commit(t OpponentType) (CommitRecord, error) {
	if !t.Valid() {
		return CommitRecord{}, fmt.Errorf("%w: %q", ErrInvalidOpponent, t)
	}

	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(c.entropy, buf); err != nil {
		return CommitRecord{}, fmt.Errorf("failed to read nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)
	ts := c.clock.Now().UnixMilli()

	return CommitRecord{
		OpponentType: t,
		Nonce:        nonce,
		Timestamp:    ts,
		Hash:         HashCommitment(t, nonce, ts),
	}, nil
}

// HashCommitment computes hex(SHA256(type|nonce|timestamp_ms)).
func HashCommitment(t OpponentType, nonce string, timestampMs int64) string {
	sum := sha256.Sum256([]byte(string(t) + "|" + nonce + "|" + strconv.FormatInt(timestampMs, 10)))
	return hex.EncodeToString(sum[:])
}

// Reveal returns the committed triple. terminal must be true; anything else is a
// programming error in the caller.
func Reveal(rec CommitRecord, terminal bool) (Revelation, error) {
	if !terminal {
		return Revelation{}, ErrPrematureReveal
	}
	return Revelation{
		OpponentType: rec.OpponentType,
		Nonce:        rec.Nonce,
		Timestamp:    rec.Timestamp,
	}, nil
}

// Verify recomputes the hash from a revelation and compares it with the commitment.
func Verify(rev Revelation, hash string) bool {
	got := HashCommitment(rev.OpponentType, rev.Nonce, rev.Timestamp)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}
