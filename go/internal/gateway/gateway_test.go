package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/turingchat/go/internal/fairness"
	"github.com/mcdev12/turingchat/go/internal/matchmaking"
	"github.com/mcdev12/turingchat/go/internal/protocol"
	"github.com/mcdev12/turingchat/go/internal/responder"
	"github.com/mcdev12/turingchat/go/internal/session"
	"github.com/mcdev12/turingchat/go/internal/timers"
)

type stack struct {
	pool    *matchmaking.Pool
	gateway *Gateway
	server  *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()

	clock := clockwork.NewFakeClock()
	registry := session.NewRegistry()
	manager := session.NewManager(
		session.DefaultConfig(),
		clock,
		timers.NewAuthority(clock),
		fairness.NewCommitter(clock),
		responder.NewCanned(0),
		registry,
	)
	pool := matchmaking.NewPool(matchmaking.Config{
		Window:    10 * time.Second,
		Retention: time.Minute,
		H2HProb:   1,
	}, clock, manager)

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)

	gw := New(DefaultConnectionConfig(), pool, registry)
	mux := http.NewServeMux()
	gw.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &stack{pool: pool, gateway: gw, server: srv}
}

// pairTickets joins two humans and returns their tickets ordered by seat.
func (s *stack) pairTickets(t *testing.T) (seatA, seatB matchmaking.Ticket) {
	t.Helper()
	ctx := context.Background()

	first, err := s.pool.Join(ctx, "alice")
	require.NoError(t, err)
	second, err := s.pool.Join(ctx, "bob")
	require.NoError(t, err)

	first, err = s.pool.Status(ctx, first.ID)
	require.NoError(t, err)
	second, err = s.pool.Status(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, matchmaking.StatusPaired, first.Status)
	require.Equal(t, first.SessionID, second.SessionID)

	if first.Seat == 0 {
		return first, second
	}
	return second, first
}

func (s *stack) dial(t *testing.T, ticket string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/match?ticket=" + ticket
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := protocol.Decode(data)
	require.NoError(t, err)
	return f
}

func readAs[T protocol.Frame](t *testing.T, ws *websocket.Conn) T {
	t.Helper()
	f := readFrame(t, ws)
	v, ok := f.(T)
	require.Truef(t, ok, "unexpected frame %T: %+v", f, f)
	return v
}

func writeFrame(t *testing.T, ws *websocket.Conn, f protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(f)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func TestGateway_HumanVsHumanMatch(t *testing.T) {
	s := newStack(t)
	ticketA, ticketB := s.pairTickets(t)

	a := s.dial(t, ticketA.ID.String())
	b := s.dial(t, ticketB.ID.String())

	startA := readAs[protocol.MatchStart](t, a)
	startB := readAs[protocol.MatchStart](t, b)
	assert.True(t, startA.YourTurn)
	assert.False(t, startB.YourTurn)
	assert.Equal(t, ticketA.CommitHash, startA.CommitHash)
	assert.Equal(t, startA.CommitHash, startB.CommitHash)

	writeFrame(t, a, protocol.Turn{Text: "hello there"})
	relayed := readAs[protocol.Turn](t, b)
	assert.Equal(t, "hello there", relayed.Text)
	assert.Equal(t, protocol.SenderOpponent, relayed.Sender)

	writeFrame(t, b, protocol.Guess{Value: "human"})

	resB := readAs[protocol.Result](t, b)
	assert.Equal(t, protocol.OutcomeGuessedCorrect, resB.Outcome)
	assert.Equal(t, 100, resB.ScoreDelta)
	resA := readAs[protocol.Result](t, a)
	assert.Equal(t, 0, resA.ScoreDelta)

	reveal := readAs[protocol.Reveal](t, b)
	assert.Equal(t, "human", reveal.OpponentType)
	assert.True(t, fairness.Verify(fairness.Revelation{
		OpponentType: fairness.OpponentType(reveal.OpponentType),
		Nonce:        reveal.Nonce,
		Timestamp:    reveal.Timestamp,
	}, startB.CommitHash))
	readAs[protocol.Reveal](t, a)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := b.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestGateway_RejectsFramesWithErrors(t *testing.T) {
	s := newStack(t)
	ticketA, ticketB := s.pairTickets(t)

	a := s.dial(t, ticketA.ID.String())
	b := s.dial(t, ticketB.ID.String())
	readAs[protocol.MatchStart](t, a)
	readAs[protocol.MatchStart](t, b)

	writeFrame(t, b, protocol.Turn{Text: "me first"})
	assert.Equal(t, protocol.ErrOutOfTurn, readAs[protocol.Error](t, b).ErrorKind)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport","data":{}}`)))
	assert.Equal(t, protocol.ErrInvalidFrame, readAs[protocol.Error](t, a).ErrorKind)

	writeFrame(t, a, protocol.State{})
	st := readAs[protocol.State](t, a)
	assert.Equal(t, "committed", st.Status)
	assert.True(t, st.YourTurn)
}

func TestGateway_LongTurnIsCapped(t *testing.T) {
	s := newStack(t)
	ticketA, ticketB := s.pairTickets(t)

	a := s.dial(t, ticketA.ID.String())
	b := s.dial(t, ticketB.ID.String())
	readAs[protocol.MatchStart](t, a)
	readAs[protocol.MatchStart](t, b)

	writeFrame(t, a, protocol.Turn{Text: strings.Repeat("x", 5000)})
	relayed := readAs[protocol.Turn](t, b)
	assert.Equal(t, strings.Repeat("x", protocol.MaxTurnRunes), relayed.Text)

	writeFrame(t, b, protocol.State{})
	st := readAs[protocol.State](t, b)
	assert.Equal(t, "active", st.Status)
	assert.True(t, st.YourTurn)

	writeFrame(t, b, protocol.Turn{Text: "still here"})
	assert.Equal(t, "still here", readAs[protocol.Turn](t, a).Text)
}

func TestGateway_DisconnectEndsMatch(t *testing.T) {
	s := newStack(t)
	ticketA, ticketB := s.pairTickets(t)

	a := s.dial(t, ticketA.ID.String())
	b := s.dial(t, ticketB.ID.String())
	readAs[protocol.MatchStart](t, a)
	readAs[protocol.MatchStart](t, b)

	require.NoError(t, a.Close())

	res := readAs[protocol.Result](t, b)
	assert.Equal(t, protocol.OutcomeRoundExpired, res.Outcome)
	assert.Equal(t, session.ReasonDisconnect, res.Reason)
	assert.Equal(t, 0, res.ScoreDelta)
	readAs[protocol.Reveal](t, b)

	require.Eventually(t, func() bool { return s.gateway.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_SecondConnectionForSeat(t *testing.T) {
	s := newStack(t)
	ticketA, _ := s.pairTickets(t)

	s.dial(t, ticketA.ID.String())
	dup := s.dial(t, ticketA.ID.String())
	assert.Equal(t, protocol.ErrNotParticipant, readAs[protocol.Error](t, dup).ErrorKind)
}

func TestGateway_InvalidTickets(t *testing.T) {
	s := newStack(t)

	waiting, err := s.pool.Join(context.Background(), "carol")
	require.NoError(t, err)

	for _, ticket := range []string{"", "not-a-uuid", uuid.NewString(), waiting.ID.String()} {
		ws := s.dial(t, ticket)
		assert.Equal(t, protocol.ErrInvalidTicket, readAs[protocol.Error](t, ws).ErrorKind, ticket)

		_, _, err := ws.ReadMessage()
		assert.Error(t, err)
	}
}

func TestErrorFrame(t *testing.T) {
	tests := []struct {
		err  error
		want protocol.ErrorKind
	}{
		{session.ErrOutOfTurn, protocol.ErrOutOfTurn},
		{session.ErrNotStarted, protocol.ErrOutOfTurn},
		{session.ErrAlreadyTerminal, protocol.ErrAlreadyTerminal},
		{session.ErrSessionNotFound, protocol.ErrSessionNotFound},
		{session.ErrSeatTaken, protocol.ErrNotParticipant},
		{session.ErrNotParticipant, protocol.ErrNotParticipant},
		{assert.AnError, protocol.ErrInvalidFrame},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorFrame(tt.err).ErrorKind, tt.err.Error())
	}
}
