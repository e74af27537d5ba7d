// Package history keeps the per-session conversation window that is sent
// back to the model on the next turn.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/jwebster45206/unknown-world/pkg/chat"
)

const (
	DefaultMaxTurns  = 5
	DefaultMaxTokens = 4000
	DefaultTTL       = 24 * time.Hour
)

type Options struct {
	MaxTurns  int
	MaxTokens int
	TTL       time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Store is a conversation-history backend. Sessions are isolated.
type Store interface {
	AddTurn(ctx context.Context, sessionID string, ex chat.Exchange) error
	GetContents(ctx context.Context, sessionID string) ([]chat.Message, error)
	Clear(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
	Name() string
}

// window drops the oldest exchanges until both limits hold.
func window(turns []chat.Exchange, opts Options) []chat.Exchange {
	if len(turns) > opts.MaxTurns {
		turns = turns[len(turns)-opts.MaxTurns:]
	}
	total := 0
	for _, ex := range turns {
		total += ex.Tokens()
	}
	for len(turns) > 0 && total > opts.MaxTokens {
		total -= turns[0].Tokens()
		turns = turns[1:]
	}
	return turns
}

func flatten(turns []chat.Exchange) []chat.Message {
	msgs := make([]chat.Message, 0, len(turns)*2)
	for _, ex := range turns {
		msgs = append(msgs, ex.Messages()...)
	}
	return msgs
}

type session struct {
	mu      sync.Mutex
	turns   []chat.Exchange
	touched time.Time
}

// MemoryStore keeps histories in process. Each session has its own mutex.
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:     opts.withDefaults(),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) get(sessionID string, create bool) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if ok && m.now().Sub(s.touched) > m.opts.TTL {
		delete(m.sessions, sessionID)
		s, ok = nil, false
	}
	if !ok && create {
		s = &session{touched: m.now()}
		m.sessions[sessionID] = s
	}
	return s
}

func (m *MemoryStore) AddTurn(ctx context.Context, sessionID string, ex chat.Exchange) error {
	s := m.get(sessionID, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = window(append(s.turns, ex), m.opts)
	s.touched = m.now()
	return nil
}

func (m *MemoryStore) GetContents(ctx context.Context, sessionID string) ([]chat.Message, error) {
	s := m.get(sessionID, false)
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return flatten(s.turns), nil
}

func (m *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Reset drops every session.
func (m *MemoryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*session)
}
