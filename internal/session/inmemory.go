package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ebcs/coach/internal/coach"
)

type entry struct {
	sess      *coach.Session
	expiresAt time.Time
}

// InMemoryStore keeps sessions in a mutex-guarded map. Expired entries are
// dropped lazily on access and by Sweep.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*entry),
		ttl:      ttlOrDefault(ttl),
	}
}

func (s *InMemoryStore) Ensure(_ context.Context, id string) (*coach.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if e, ok := s.sessions[id]; ok && time.Now().Before(e.expiresAt) {
			e.expiresAt = time.Now().Add(s.ttl)
			return e.sess, nil
		}
	}
	sess := coach.NewSession(uuid.NewString())
	s.sessions[sess.ID] = &entry{sess: sess, expiresAt: time.Now().Add(s.ttl)}
	return sess, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*coach.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, ErrNotFound
	}
	return e.sess, nil
}

func (s *InMemoryStore) Save(_ context.Context, sess *coach.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = &entry{sess: sess, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep removes expired sessions and reports how many were dropped.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	dropped := 0
	for id, e := range s.sessions {
		if now.After(e.expiresAt) {
			delete(s.sessions, id)
			dropped++
		}
	}
	return dropped
}
