package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWindow    = 10 * time.Second
	testRetention = 2 * time.Minute
)

type fakeMatcher struct {
	mu     sync.Mutex
	humans [][2]string
	ai     []string
	err    error
}

func (m *fakeMatcher) MatchHumans(first, second string) (Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Match{}, m.err
	}
	m.humans = append(m.humans, [2]string{first, second})
	return Match{SessionID: uuid.New(), CommitHash: fmt.Sprintf("h2h-%d", len(m.humans))}, nil
}

func (m *fakeMatcher) MatchAI(token string) (Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Match{}, m.err
	}
	m.ai = append(m.ai, token)
	return Match{SessionID: uuid.New(), CommitHash: fmt.Sprintf("ai-%d", len(m.ai))}, nil
}

func (m *fakeMatcher) aiCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ai...)
}

// seqRand replays scripted draws, then repeats the last one.
type seqRand struct {
	mu     sync.Mutex
	values []float64
}

func (r *seqRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[0]
	if len(r.values) > 1 {
		r.values = r.values[1:]
	}
	return v
}

func newTestPool(t *testing.T, h2h float64, draws ...float64) (*Pool, *fakeMatcher, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	matcher := &fakeMatcher{}
	if len(draws) == 0 {
		draws = []float64{0}
	}
	p := NewPool(Config{Window: testWindow, Retention: testRetention, H2HProb: h2h}, clock, matcher, WithRand(&seqRand{values: draws}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go p.Run(ctx)
	return p, matcher, clock
}

func waitStatus(t *testing.T, p *Pool, id uuid.UUID, want TicketStatus) Ticket {
	t.Helper()
	var got Ticket
	require.Eventually(t, func() bool {
		tk, err := p.Status(context.Background(), id)
		if err != nil {
			return false
		}
		got = tk
		return tk.Status == want
	}, time.Second, 5*time.Millisecond)
	return got
}

func TestJoin_AloneResolvesToAI(t *testing.T) {
	p, matcher, clock := newTestPool(t, 0.5)
	ctx := context.Background()

	tk, err := p.Join(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, tk.Status)
	assert.Equal(t, clock.Now().Add(testWindow), tk.ExpiresAt)

	n, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clock.Advance(testWindow - time.Second)
	got, err := p.Status(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)

	clock.Advance(time.Second)
	got = waitStatus(t, p, tk.ID, StatusPaired)
	assert.NotEqual(t, uuid.Nil, got.SessionID)
	assert.Equal(t, "ai-1", got.CommitHash)
	assert.Equal(t, 0, got.Seat)
	assert.Equal(t, []string{"alice"}, matcher.aiCalls())

	n, err = p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestJoin_TwoHumansPairedWhenDrawSucceeds(t *testing.T) {
	p, matcher, _ := newTestPool(t, 0.5, 0.1)
	ctx := context.Background()

	first, err := p.Join(ctx, "alice")
	require.NoError(t, err)
	second, err := p.Join(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusPaired, second.Status)

	a, err := p.Status(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaired, a.Status)
	assert.Equal(t, second.SessionID, a.SessionID)
	assert.Equal(t, second.CommitHash, a.CommitHash)
	assert.Equal(t, 0, a.Seat)
	assert.Equal(t, 1, second.Seat)
	assert.Equal(t, [][2]string{{"alice", "bob"}}, matcher.humans)

	n, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestJoin_FailedDrawReservesOneForAI(t *testing.T) {
	// 0.9 fails the pairing draw, 0.2 reserves the waiting peer, 0.1 pairs the third joiner.
	p, matcher, clock := newTestPool(t, 0.5, 0.9, 0.2, 0.1)
	ctx := context.Background()

	first, err := p.Join(ctx, "alice")
	require.NoError(t, err)
	second, err := p.Join(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, second.Status)

	n, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	third, err := p.Join(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, StatusPaired, third.Status)
	assert.Equal(t, [][2]string{{"bob", "carol"}}, matcher.humans)

	clock.Advance(testWindow)
	waitStatus(t, p, first.ID, StatusPaired)
	assert.Equal(t, []string{"alice"}, matcher.aiCalls())
}

func TestJoin_SameTokenNotPairedWithItself(t *testing.T) {
	p, matcher, _ := newTestPool(t, 1)
	ctx := context.Background()

	_, err := p.Join(ctx, "alice")
	require.NoError(t, err)
	again, err := p.Join(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, again.Status)
	assert.Empty(t, matcher.humans)
}

func TestJoin_SkipsPeerPastWindowBeforeExpiryRuns(t *testing.T) {
	p, matcher, clock := newTestPool(t, 1)
	ctx := context.Background()

	// Run both joins in one pool op so alice's expiry callback is queued
	// behind bob's join instead of running first.
	var first, second Ticket
	require.NoError(t, p.do(ctx, func() {
		first = p.join("alice")
		clock.Advance(testWindow)
		second = p.join("bob")
	}))
	assert.Equal(t, StatusWaiting, second.Status)

	waitStatus(t, p, first.ID, StatusPaired)
	assert.Equal(t, []string{"alice"}, matcher.aiCalls())
	assert.Empty(t, matcher.humans)

	got, err := p.Status(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
}

func TestJoin_EmptyToken(t *testing.T) {
	p, _, _ := newTestPool(t, 1)
	_, err := p.Join(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestLeave(t *testing.T) {
	p, matcher, clock := newTestPool(t, 1)
	ctx := context.Background()

	tk, err := p.Join(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, p.Leave(ctx, tk.ID))

	got, err := p.Status(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	n, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(testWindow)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, matcher.aiCalls())

	err = p.Leave(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestLeave_PairedIsNoop(t *testing.T) {
	p, _, _ := newTestPool(t, 1)
	ctx := context.Background()

	_, err := p.Join(ctx, "alice")
	require.NoError(t, err)
	second, err := p.Join(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, p.Leave(ctx, second.ID))
	got, err := p.Status(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaired, got.Status)
}

func TestStatus_ForgottenAfterRetention(t *testing.T) {
	p, _, clock := newTestPool(t, 1)
	ctx := context.Background()

	tk, err := p.Join(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, p.Leave(ctx, tk.ID))

	clock.Advance(testRetention)
	require.Eventually(t, func() bool {
		_, err := p.Status(ctx, tk.ID)
		return errors.Is(err, ErrInvalidTicket)
	}, time.Second, 5*time.Millisecond)
}

func TestMatcherFailureExpiresTicket(t *testing.T) {
	p, matcher, clock := newTestPool(t, 0.5)
	matcher.err = errors.New("boom")
	ctx := context.Background()

	tk, err := p.Join(ctx, "alice")
	require.NoError(t, err)
	clock.Advance(testWindow)
	waitStatus(t, p, tk.ID, StatusExpired)
}

func TestConcurrentJoinsNeverSharePeer(t *testing.T) {
	p, matcher, _ := newTestPool(t, 1)
	ctx := context.Background()

	const joiners = 40
	tickets := make([]Ticket, joiners)
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := p.Join(ctx, fmt.Sprintf("player-%d", i))
			assert.NoError(t, err)
			tickets[i] = tk
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, pair := range matcher.humans {
		for _, token := range pair {
			assert.False(t, seen[token], "token %s paired twice", token)
			seen[token] = true
		}
	}
	assert.Len(t, matcher.humans, joiners/2)

	sessions := make(map[uuid.UUID]int)
	for _, tk := range tickets {
		got, err := p.Status(ctx, tk.ID)
		require.NoError(t, err)
		require.Equal(t, StatusPaired, got.Status)
		sessions[got.SessionID]++
	}
	for id, n := range sessions {
		assert.Equal(t, 2, n, "session %s", id)
	}
}

func TestPoolClosed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewPool(Config{Window: testWindow, Retention: testRetention}, clock, &fakeMatcher{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := p.Join(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrPoolClosed)
}
