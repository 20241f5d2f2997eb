// Package session holds per-session conversation history.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBusy signals a concurrent turn is already running on the session.
var ErrBusy = errors.New("session busy")

// BusyPolicy decides what happens when a second turn arrives while a
// session's current turn is still running.
type BusyPolicy string

const (
	// Reject fails the second turn immediately with ErrBusy.
	Reject BusyPolicy = "reject"
	// Block parks the second turn until the first completes.
	Block BusyPolicy = "block"
)

// Source identifies the chunk that backed a claim in an assistant message.
type Source struct {
	Filename string `json:"filename"`
	ChunkID  string `json:"chunk_id"`
}

// Message is one entry of a conversation. Sources are attached only to
// assistant messages, after generation completes. Incomplete marks an
// assistant message cut short by a mid-stream failure.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Sources    []Source  `json:"sources,omitempty"`
	Incomplete bool      `json:"incomplete,omitempty"`
}

// Store is an in-memory session store. History appends for a given session
// are serialized through Acquire; sessions are created lazily and never
// evicted here (TTL is a deployment concern).
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*state
	policy   BusyPolicy
}

type state struct {
	turn     sync.Mutex // serializes whole chat turns
	mu       sync.Mutex // guards messages
	messages []Message
}

// NewStore creates a session store with the given busy policy.
func NewStore(policy BusyPolicy) *Store {
	if policy == "" {
		policy = Reject
	}
	return &Store{
		sessions: make(map[string]*state),
		policy:   policy,
	}
}

// Create returns a new unique session id.
func (s *Store) Create() string {
	return uuid.New().String()
}

// Get returns the session's messages in append order, empty for unknown ids.
func (s *Store) Get(id string) []Message {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// Append records a completed user/assistant exchange, creating the session
// if needed.
func (s *Store) Append(id string, user, assistant Message) {
	st := s.ensure(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.messages = append(st.messages, user, assistant)
}

// Acquire takes the session's turn lock, creating the session if needed.
// Under the Reject policy a busy session returns ErrBusy immediately; under
// Block the call waits. The returned release func must be called exactly
// once when the turn finishes.
func (s *Store) Acquire(id string) (func(), error) {
	st := s.ensure(id)

	switch s.policy {
	case Block:
		st.turn.Lock()
	default:
		if !st.turn.TryLock() {
			return nil, ErrBusy
		}
	}
	return st.turn.Unlock, nil
}

func (s *Store) ensure(id string) *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		st = &state{}
		s.sessions[id] = st
	}
	return st
}
