package orchestrator

import "sync"

// sessionLocks serializes turns per session id: concurrent messages for the
// same session must not interleave state transitions, while different
// sessions proceed in parallel.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the per-session mutex, creating it on first use, and returns
// the unlock function.
func (l *sessionLocks) Lock(sessionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
