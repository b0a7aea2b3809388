package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/turingchat/go/internal/fairness"
	"github.com/mcdev12/turingchat/go/internal/protocol"
)

func TestManager_MatchAI(t *testing.T) {
	h := newHarness(t, silentResponder{}, testConfig())

	match, err := h.manager.MatchAI("alice")
	require.NoError(t, err)
	assert.Len(t, match.CommitHash, 64)

	s, err := h.registry.Get(match.SessionID)
	require.NoError(t, err)
	assert.Equal(t, match.CommitHash, s.CommitHash())

	select {
	case info := <-h.observer.created:
		assert.Equal(t, match.SessionID, info.SessionID)
		assert.Equal(t, []string{"alice"}, info.Tokens)
	case <-time.After(time.Second):
		t.Fatal("no created notification")
	}
}

func TestManager_MatchHumans(t *testing.T) {
	h := newHarness(t, silentResponder{}, testConfig())

	match, err := h.manager.MatchHumans("alice", "bob")
	require.NoError(t, err)

	s, err := h.registry.Get(match.SessionID)
	require.NoError(t, err)

	a, b := &fakeTransport{}, &fakeTransport{}
	require.NoError(t, s.Attach(SeatA, a))
	require.NoError(t, s.Attach(SeatB, b))
	assert.True(t, waitFrame[protocol.MatchStart](t, a).YourTurn)
	assert.False(t, waitFrame[protocol.MatchStart](t, b).YourTurn)
}

func TestManager_CreateValidatesSeats(t *testing.T) {
	h := newHarness(t, silentResponder{}, testConfig())

	_, err := h.manager.Create(fairness.OpponentAI, Participant{Token: "a", Human: true}, Participant{Token: "b", Human: true})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = h.manager.Create(fairness.OpponentHuman, Participant{Token: "a", Human: true}, Participant{Token: aiToken})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = h.manager.Create(fairness.OpponentAI, Participant{Token: aiToken}, Participant{Token: "b", Human: true})
	assert.ErrorIs(t, err, ErrNotParticipant)

	assert.Equal(t, 0, h.registry.Count())
}

func TestManager_Shutdown(t *testing.T) {
	h := newHarness(t, silentResponder{}, testConfig())
	s := h.aiSession(t)
	tr := &fakeTransport{}
	require.NoError(t, s.Attach(SeatA, tr))

	h.manager.Shutdown(time.Second)
	waitDone(t, s)
	assert.Equal(t, 0, h.registry.Count())
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, r.Snapshot())
}
