package proxy

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateSession is returned when a live session already exists for
	// the charge point id. Only the acceptor resolves it, by displacing the
	// old session.
	ErrDuplicateSession = errors.New("proxy: session already exists for charge point")

	// ErrChargerNotConnected is returned by operator-initiated operations when
	// no live session exists for the target charge point.
	ErrChargerNotConnected = errors.New("proxy: charger not connected")
)

// Registry is the process-wide map of live sessions, keyed by charge point
// id. The mutex covers only map operations; nothing long runs under it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session. Fails with ErrDuplicateSession if one is already
// live for the same charge point.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[s.ChargePointID()]; exists {
		return ErrDuplicateSession
	}
	r.sessions[s.ChargePointID()] = s
	return nil
}

// Lookup returns the live session for the charge point, or nil.
func (r *Registry) Lookup(chargePointID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[chargePointID]
}

// RemoveSession deregisters the given session only if it is still the live
// one for its charge point. Protects a displacing session from being removed
// by the displaced session's teardown.
func (r *Registry) RemoveSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.ChargePointID()] == s {
		delete(r.sessions, s.ChargePointID())
	}
}

// Remove deregisters the charge point. Idempotent.
func (r *Registry) Remove(chargePointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, chargePointID)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
