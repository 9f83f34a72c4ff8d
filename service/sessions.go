package service

import (
	"sync"

	"ws-rpc/transport"
)

// Sessions tracks the open sessions of each service, keyed by service id.
// When a service's set becomes empty its key is removed, so long-gone
// services do not keep growing the map in hot-reload hosts.
type Sessions struct {
	mu        sync.RWMutex
	byService map[string]map[*transport.Session]struct{}
}

// NewSessions creates an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{byService: make(map[string]map[*transport.Session]struct{})}
}

// Add registers an open session under a service id.
func (r *Sessions) Add(serviceID string, session *transport.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byService[serviceID]
	if !ok {
		set = make(map[*transport.Session]struct{})
		r.byService[serviceID] = set
	}
	set[session] = struct{}{}
}

// Remove drops a session; the service's key disappears with its last
// session.
func (r *Sessions) Remove(serviceID string, session *transport.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byService[serviceID]
	if !ok {
		return
	}
	delete(set, session)
	if len(set) == 0 {
		delete(r.byService, serviceID)
	}
}

// Snapshot returns the sessions currently tracked for a service.
func (r *Sessions) Snapshot(serviceID string) []*transport.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byService[serviceID]
	sessions := make([]*transport.Session, 0, len(set))
	for s := range set {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count returns the number of sessions tracked for a service.
func (r *Sessions) Count(serviceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byService[serviceID])
}

// Has reports whether the service id is present in the registry.
func (r *Sessions) Has(serviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byService[serviceID]
	return ok
}

// ServiceIDs returns the ids that currently have at least one session.
func (r *Sessions) ServiceIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byService))
	for id := range r.byService {
		ids = append(ids, id)
	}
	return ids
}
