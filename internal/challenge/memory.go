package challenge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps pending ceremonies in process memory. Suitable for a
// single-instance deployment and for tests; multi-instance deployments use
// the Redis store so a finish can land on a different instance than begin.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	clock    func() time.Time
}

// NewMemoryStore builds an empty in-memory ceremony store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		clock:    time.Now,
	}
}

// Put stores the ceremony, overwriting any previous one under the same ID.
func (s *MemoryStore) Put(ctx context.Context, session Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if session.Kind == "" {
		return fmt.Errorf("session kind is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

// Take returns the pending ceremony for the session.
func (s *MemoryStore) Take(ctx context.Context, id string, kind Kind) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.Kind != kind {
		return Session{}, ErrNoPendingCeremony
	}
	if !session.ExpiresAt.After(s.clock().UTC()) {
		delete(s.sessions, id)
		return Session{}, ErrCeremonyExpired
	}
	return session, nil
}

// Delete removes the pending ceremony, if any.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteExpired reaps ceremonies whose window has passed.
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			delete(s.sessions, id)
		}
	}
	return nil
}
