package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configure every session created by a Manager
type Options struct {
	Connect            ConnectFunc
	ServerAPIKey       string // When set, sessions use it and never ask the student for a key
	SimilarInstruction string
	TTL                time.Duration // Idle sessions older than this are dropped by Expire
}

// Manager keeps the live sessions, keyed by an opaque random ID. Sessions never see each other's state.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	return &Manager{
		opts:     opts,
		sessions: map[string]*Session{},
	}
}

// Create starts a fresh session
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.opts)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s
}

// Get looks up a session by ID
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate returns the session with the given ID, or a new one if it does not exist or has expired
func (m *Manager) GetOrCreate(id string) (*Session, bool) {
	if s, ok := m.Get(id); ok {
		return s, false
	}
	return m.Create(), true
}

// Destroy drops a session
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Expire drops sessions that have been idle for longer than the TTL and returns how many were dropped. Sessions with
// an exchange in flight are never idle.
func (m *Manager) Expire(now time.Time) int {
	if m.opts.TTL <= 0 {
		return 0
	}

	m.mu.Lock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	var expired []string
	for _, s := range candidates {
		if now.Sub(s.idleSince()) > m.opts.TTL {
			expired = append(expired, s.ID)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range expired {
		delete(m.sessions, id)
	}
	return len(expired)
}

// Run expires idle sessions every interval until ctx is cancelled
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := m.Expire(now); n > 0 {
				log.Printf("[sessions] Expired %d idle sessions, %d remain", n, m.Len())
			}
		}
	}
}
