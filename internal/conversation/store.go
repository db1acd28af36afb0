package conversation

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTurnInFlight is returned when a turn is already running for a session.
var ErrTurnInFlight = errors.New("conversation: a turn is already in flight for this session")

// Store holds conversation state for all live sessions and enforces the
// one-turn-at-a-time rule per session. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry

	model        string
	systemPrompt string
	maxIdle      time.Duration
}

type entry struct {
	state    *State
	busy     bool
	lastUsed time.Time
}

// NewStore creates a session store. New sessions are seeded with the given
// model and system prompt. Sessions idle longer than maxIdle are evicted on
// access; zero disables eviction.
func NewStore(model, systemPrompt string, maxIdle time.Duration) *Store {
	return &Store{
		sessions:     make(map[string]*entry),
		model:        model,
		systemPrompt: systemPrompt,
		maxIdle:      maxIdle,
	}
}

// GetOrCreate returns the conversation state for a session, creating it on
// first use.
func (s *Store) GetOrCreate(sessionID string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(sessionID).state
}

func (s *Store) getOrCreateLocked(sessionID string) *entry {
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &entry{state: NewState(sessionID, s.model, s.systemPrompt)}
		s.sessions[sessionID] = e
		s.evictIdleLocked()
	}
	e.lastUsed = time.Now()
	return e
}

// Begin claims the session for one turn. It returns the session state and a
// release function, or ErrTurnInFlight when another turn holds the session.
// The release function is idempotent.
func (s *Store) Begin(sessionID string) (*State, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreateLocked(sessionID)
	if e.busy {
		return nil, nil, ErrTurnInFlight
	}
	e.busy = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			e.busy = false
			e.lastUsed = time.Now()
			s.mu.Unlock()
		})
	}
	return e.state, release, nil
}

// Busy reports whether a turn is currently in flight for the session.
func (s *Store) Busy(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	return ok && e.busy
}

// Delete removes a session. A busy session is not removed.
func (s *Store) Delete(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok || e.busy {
		return false
	}
	delete(s.sessions, sessionID)
	return true
}

// IDs returns all live session ids, sorted.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) evictIdleLocked() {
	if s.maxIdle <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.maxIdle)
	for id, e := range s.sessions {
		if !e.busy && e.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
