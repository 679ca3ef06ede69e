package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/prdforge/internal/domain"
	"github.com/Strob0t/prdforge/internal/domain/session"
)

// SessionStore owns every live session. Calls for the same session id run one
// at a time; different sessions never block each other.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	now     func() time.Time
}

type sessionEntry struct {
	sem  *semaphore.Weighted
	sess *session.Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{entries: make(map[string]*sessionEntry), now: time.Now}
}

// Create registers a new session under a fresh opaque id.
func (s *SessionStore) Create() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.entries[id] = &sessionEntry{sem: semaphore.NewWeighted(1), sess: session.New(id, s.now())}
	s.mu.Unlock()
	return id
}

// With runs fn with exclusive access to the session. It waits for earlier
// calls on the same session and gives up when ctx ends.
func (s *SessionStore) With(ctx context.Context, id string, fn func(*session.Session) error) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	defer e.sem.Release(1)

	// Released while waiting.
	if cur, err := s.lookup(id); err != nil || cur != e {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return fn(e.sess)
}

// Release discards a session. Calls already running keep their snapshot.
func (s *SessionStore) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	delete(s.entries, id)
	return nil
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *SessionStore) lookup(id string) (*sessionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}
