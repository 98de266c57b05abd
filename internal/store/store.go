// Package store provides pluggable persistence for chat sessions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/careline/concierge/internal/domain"
)

var (
	// ErrNotFound is returned by Update when the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyExists is returned by Create when the id is taken. Callers
	// re-read and continue; two concurrent first touches must converge on
	// one session.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrVersionConflict is returned by Update when the stored version does
	// not match the one being written.
	ErrVersionConflict = errors.New("session version conflict")
)

// Store defines the interface for session persistence.
//
// Get returns (nil, nil) when the session is absent; absence is not an
// error. Create atomically claims an id and sets Version to 1. Update uses
// optimistic locking on Version: it verifies the stored version matches,
// increments it, and stamps UpdatedAt.
type Store interface {
	Get(ctx context.Context, id string) (*domain.ChatSession, error)
	Create(ctx context.Context, session *domain.ChatSession) error
	Update(ctx context.Context, session *domain.ChatSession) error
	Delete(ctx context.Context, id string) error

	// DeleteIdle removes sessions not updated within the TTL. Drivers with
	// native key expiry may report zero without scanning.
	DeleteIdle(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	Close() error
}
