package store

import (
	"context"
	"sync"
	"time"

	"github.com/careline/concierge/internal/domain"
)

// MemoryStore implements Store using an in-memory map with optimistic
// locking. Intended for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.ChatSession
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.ChatSession)}
}

// Create atomically claims the session id with Version set to 1.
func (s *MemoryStore) Create(ctx context.Context, session *domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return ErrAlreadyExists
	}

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.Version = 1
	s.sessions[session.ID] = session
	return nil
}

// Get returns nil if the session is not found (not an error).
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, nil
	}
	return session, nil
}

// Update verifies the version matches, increments it, and persists.
func (s *MemoryStore) Update(ctx context.Context, session *domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.sessions[session.ID]
	if !exists {
		return ErrNotFound
	}
	if stored.Version != session.Version {
		return ErrVersionConflict
	}

	session.Version++
	session.UpdatedAt = time.Now()
	s.sessions[session.ID] = session
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// DeleteIdle removes sessions not updated within the TTL.
func (s *MemoryStore) DeleteIdle(ctx context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-ttl)
	var deleted int64
	for id, session := range s.sessions {
		if session.UpdatedAt.Before(threshold) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	return nil
}
