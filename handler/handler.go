// Package handler maps operation names to the functions that serve them.
//
// A Handler works on raw payloads; the typed constructors compose a user
// function with the converters of a codec.MessageType so implementations
// never touch JSON themselves:
//
//	raw body → request converter → user function → response converter → raw body
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"ws-rpc/codec"
)

// Handler serves one operation: it receives the raw request body and
// returns the raw response body. The returned fragment becomes the body of
// the RESPONSE envelope iff the request expected one.
type Handler func(ctx context.Context, body json.RawMessage) (json.RawMessage, error)

// Manager is a concurrency-safe mapping of operation name to handler.
// Lookup is case-insensitive; names are stored canonically uppercased.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewManager creates an empty handler table.
func NewManager() *Manager {
	return &Manager{handlers: make(map[string]Handler)}
}

// Get returns the handler for an operation, or nil if none is registered.
func (m *Manager) Get(op string) Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[canonical(op)]
}

// Set adds or replaces the handler for an operation.
func (m *Manager) Set(op string, h Handler) {
	if op == "" {
		panic("handler: operation name cannot be empty")
	}
	if h == nil {
		panic("handler: handler cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[canonical(op)] = h
}

// SetDefault registers a handler only when the operation has none yet.
// Used for the built-in operations so user registrations win.
func (m *Manager) SetDefault(op string, h Handler) {
	if h == nil {
		panic("handler: handler cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := canonical(op)
	if _, exists := m.handlers[key]; !exists {
		m.handlers[key] = h
	}
}

// Remove deletes the handler for an operation and reports whether one was
// registered.
func (m *Manager) Remove(op string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := canonical(op)
	_, existed := m.handlers[key]
	delete(m.handlers, key)
	return existed
}

// Ops returns the registered operation names in canonical form.
func (m *Manager) Ops() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ops := make([]string, 0, len(m.handlers))
	for op := range m.handlers {
		ops = append(ops, op)
	}
	return ops
}

func canonical(op string) string {
	return strings.ToUpper(op)
}

// Typed adapts a Req→Res function into a raw handler using the message
// type's converters.
func Typed[Req, Res any](mt codec.MessageType[Req, Res], fn func(ctx context.Context, req Req) (Res, error)) Handler {
	if fn == nil {
		panic("handler: function cannot be nil")
	}
	return func(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
		req, err := mt.Request().Deserialize(body)
		if err != nil {
			return nil, errors.Join(errors.New("failed to decode request body"), err)
		}
		res, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return mt.Response().Serialize(res)
	}
}

// Producer adapts a ()→Res function: the request body is ignored.
func Producer[Req, Res any](mt codec.MessageType[Req, Res], fn func(ctx context.Context) (Res, error)) Handler {
	if fn == nil {
		panic("handler: function cannot be nil")
	}
	return func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		res, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return mt.Response().Serialize(res)
	}
}

// Consumer adapts a Req→() function: the response body is null.
func Consumer[Req, Res any](mt codec.MessageType[Req, Res], fn func(ctx context.Context, req Req) error) Handler {
	if fn == nil {
		panic("handler: function cannot be nil")
	}
	return func(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
		req, err := mt.Request().Deserialize(body)
		if err != nil {
			return nil, errors.Join(errors.New("failed to decode request body"), err)
		}
		return nil, fn(ctx, req)
	}
}

// Register is the convenience for the common case: adapt fn with Typed and
// register it under the message type's name.
func Register[Req, Res any](m *Manager, mt codec.MessageType[Req, Res], fn func(ctx context.Context, req Req) (Res, error)) {
	m.Set(mt.Name(), Typed(mt, fn))
}
