package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/fairness"
	"github.com/mcdev12/turingchat/go/internal/matchmaking"
	"github.com/mcdev12/turingchat/go/internal/metrics"
	"github.com/mcdev12/turingchat/go/internal/timers"
)

// aiToken identifies the synthetic opponent seat.
const aiToken = "ai-opponent"

// Manager creates sessions and owns their shared collaborators.
type Manager struct {
	cfg       Config
	clock     clockwork.Clock
	timers    *timers.Authority
	committer *fairness.Committer
	responder Responder
	registry  *Registry
	metrics   metrics.Collector
	observers []Observer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithMetrics(c metrics.Collector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

func WithObservers(obs ...Observer) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, obs...) }
}

func NewManager(
	cfg Config,
	clock clockwork.Clock,
	authority *timers.Authority,
	committer *fairness.Committer,
	responder Responder,
	registry *Registry,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		cfg:       cfg,
		clock:     clock,
		timers:    authority,
		committer: committer,
		responder: responder,
		registry:  registry,
		metrics:   metrics.NoOpCollector{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the live session store.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// MatchHumans implements matchmaking.Matcher. first takes SeatA.
func (m *Manager) MatchHumans(first, second string) (matchmaking.Match, error) {
	s, err := m.Create(fairness.OpponentHuman, Participant{Token: first, Human: true}, Participant{Token: second, Human: true})
	if err != nil {
		return matchmaking.Match{}, err
	}
	return matchmaking.Match{SessionID: s.ID(), CommitHash: s.CommitHash()}, nil
}

// MatchAI implements matchmaking.Matcher. The human takes SeatA.
func (m *Manager) MatchAI(token string) (matchmaking.Match, error) {
	s, err := m.Create(fairness.OpponentAI, Participant{Token: token, Human: true}, Participant{Token: aiToken})
	if err != nil {
		return matchmaking.Match{}, err
	}
	return matchmaking.Match{SessionID: s.ID(), CommitHash: s.CommitHash()}, nil
}

// Create commits the opponent type and starts a session for the two seats.
func (m *Manager) Create(opponent fairness.OpponentType, a, b Participant) (*Session, error) {
	if !a.Human {
		return nil, fmt.Errorf("%w: seat A must be human", ErrNotParticipant)
	}
	if b.Human != (opponent == fairness.OpponentHuman) {
		return nil, fmt.Errorf("%w: seat B does not match opponent type %s", ErrNotParticipant, opponent)
	}

	commit, err := m.committer.Commit(opponent)
	if err != nil {
		return nil, fmt.Errorf("failed to commit opponent: %w", err)
	}

	d := deps{cfg: m.cfg, clock: m.clock, timers: m.timers, responder: m.responder}
	s := newSession(uuid.New(), commit, [2]Participant{a, b}, d, m.closed)
	m.registry.Add(s)
	m.metrics.SessionOpened(string(opponent))
	s.start()

	info := MatchInfo{
		SessionID:  s.ID(),
		CommitHash: commit.Hash,
		Tokens:     []string{a.Token},
		CreatedAt:  m.clock.Now(),
	}
	if b.Human {
		info.Tokens = append(info.Tokens, b.Token)
	}
	m.notify(func(o Observer) { o.MatchCreated(info) })

	log.Info().
		Str("session_id", s.ID().String()).
		Str("commit_hash", commit.Hash).
		Msg("session created")
	return s, nil
}

// closed runs on the session goroutine as its final step.
func (m *Manager) closed(sum Summary) {
	m.registry.Remove(sum.SessionID)
	m.metrics.SessionClosed(string(sum.Outcome), sum.Reason, sum.ClosedAt.Sub(sum.CreatedAt), len(sum.Turns))
	m.notify(func(o Observer) { o.MatchClosed(sum) })

	log.Info().
		Str("session_id", sum.SessionID.String()).
		Str("outcome", string(sum.Outcome)).
		Dur("duration", sum.ClosedAt.Sub(sum.CreatedAt).Round(time.Millisecond)).
		Int("turns", len(sum.Turns)).
		Msg("session closed")
}

func (m *Manager) notify(fn func(Observer)) {
	if len(m.observers) == 0 {
		return
	}
	go func() {
		for _, o := range m.observers {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("session observer failed")
					}
				}()
				fn(o)
			}()
		}
	}()
}

// Shutdown disconnects every live session and waits for them to close.
func (m *Manager) Shutdown(timeout time.Duration) {
	sessions := m.registry.Snapshot()
	for _, s := range sessions {
		s.Disconnect(SeatA)
	}

	deadline := time.After(timeout)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
			log.Warn().Int("sessions", m.registry.Count()).Msg("timed out waiting for sessions to close")
			return
		}
	}
}
