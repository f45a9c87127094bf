package server

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/parens/vm"
)

// Factory builds a fresh VM with its compiler and library installed.
type Factory func() (*vm.VM, error)

// Session is an evaluation context with its own VM and global scope.
type Session struct {
	ID      string
	Name    string
	VM      *vm.VM
	Created time.Time
}

// SessionStore manages sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  Factory
	max      int
	pending  int // slots reserved by Create calls still building their VM
}

// NewSessionStore creates a session store. max bounds the number of live
// sessions; zero means unbounded.
func NewSessionStore(factory Factory, max int) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		factory:  factory,
		max:      max,
	}
}

// Create builds a new session with an optional name. The slot is reserved
// before the VM is built so concurrent calls cannot overshoot the limit.
func (s *SessionStore) Create(name string) (*Session, error) {
	s.mu.Lock()
	if s.max > 0 && len(s.sessions)+s.pending >= s.max {
		s.mu.Unlock()
		return nil, fmt.Errorf("session limit of %d reached", s.max)
	}
	s.pending++
	s.mu.Unlock()

	v, err := s.factory()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if err != nil {
		return nil, fmt.Errorf("creating session VM: %w", err)
	}

	session := &Session{
		ID:      uuid.NewString(),
		Name:    name,
		VM:      v,
		Created: time.Now(),
	}
	s.sessions[session.ID] = session

	log.Infof("created session %s %q", session.ID, name)
	return session, nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Destroy removes a session. It reports whether the session existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	log.Infof("destroyed session %s", id)
	return true
}

// List returns every live session, oldest first.
func (s *SessionStore) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		list = append(list, session)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Created.Before(list[j].Created)
	})
	return list
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
