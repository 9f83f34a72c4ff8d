package proxy

import (
	"fmt"
	"sync"
)

// Manager holds the proxies a service depends on, by name.
type Manager struct {
	mu      sync.RWMutex
	proxies map[string]*Proxy
}

// NewManager creates an empty proxy manager.
func NewManager() *Manager {
	return &Manager{proxies: make(map[string]*Proxy)}
}

// Names returns the registered proxy names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.proxies))
	for name := range m.proxies {
		names = append(names, name)
	}
	return names
}

// Kind returns the client kind managed by the named proxy, or the empty
// string when the proxy does not exist.
func (m *Manager) Kind(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.proxies[name]
	if p == nil {
		return ""
	}
	return p.clientKind
}

// Get returns the named proxy after verifying it manages the expected
// client kind. A missing proxy returns nil; a kind mismatch fails loudly.
func (m *Manager) Get(name, expectedClientKind string) (*Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.proxies[name]
	if p == nil {
		return nil, nil
	}
	if p.clientKind != expectedClientKind {
		return nil, fmt.Errorf("expected the client in proxy %q to be of kind %q, but it is of kind %q",
			name, expectedClientKind, p.clientKind)
	}
	return p, nil
}

// Set adds or replaces a proxy under its own name.
func (m *Manager) Set(p *Proxy) {
	if p == nil {
		panic("proxy: cannot register a nil proxy")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxies[p.name] = p
}

// Remove unregisters the given proxy. The removal requires identity: a
// proxy that was already replaced under the same name is left alone.
func (m *Manager) Remove(p *Proxy) bool {
	if p == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current := m.proxies[p.name]; current != p {
		return false
	}
	delete(m.proxies, p.name)
	return true
}

// Invalidate discards the named proxy's cached client so its next Get
// reconnects. Reports whether the proxy exists.
func (m *Manager) Invalidate(name string) bool {
	m.mu.RLock()
	p := m.proxies[name]
	m.mu.RUnlock()
	if p == nil {
		return false
	}
	p.Invalidate()
	return true
}
