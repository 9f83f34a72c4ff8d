// Package pending tracks requests that are awaiting a response.
//
// The registry is a per-session mapping of request id to Call. The reply
// pump (the endpoint receive loop) and the awaiting caller have no
// causality, so each Call is a latch: a result signalled before the first
// Await is still observed.
//
//	caller ──StartTracking──► registry ──Signal◄── receive loop
//	   │                         │
//	   └──Await (blocks) ◄───────┘ (latch: signal may precede await)
package pending

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ws-rpc/message"
	"ws-rpc/transport"
)

var (
	// ErrTimeout is returned by Await when the timeout fires before a
	// result arrives.
	ErrTimeout = errors.New("timed out before receiving a response")
	// ErrSessionClosed completes every waiter dropped by Purge.
	ErrSessionClosed = errors.New("session closed before a response was received")
	// ErrNegativeTimeout rejects negative timeouts; zero means wait
	// forever.
	ErrNegativeTimeout = errors.New("timeout cannot be negative")
)

// Call is one registered waiter. It is owned by the registry until removed,
// then by the awaiting goroutine.
type Call struct {
	request *message.Message
	done    chan struct{}
	once    sync.Once
	result  *message.Message // written before done is closed
}

func newCall(request *message.Message) *Call {
	return &Call{request: request, done: make(chan struct{})}
}

// Request returns the request message this call is waiting on.
func (c *Call) Request() *message.Message { return c.request }

// complete stores the result and releases every waiter. Reports false when
// the call was already completed - signalling twice is a programming error
// on the caller's side.
func (c *Call) complete(result *message.Message) bool {
	completed := false
	c.once.Do(func() {
		c.result = result
		close(c.done)
		completed = true
	})
	return completed
}

// Await blocks until the call is completed or the timeout fires. A timeout
// of zero waits forever; negative timeouts are rejected. The latch
// semantics make a signal that precedes the first Await visible.
func (c *Call) Await(timeout time.Duration) (*message.Message, error) {
	if timeout < 0 {
		return nil, ErrNegativeTimeout
	}
	if timeout == 0 {
		<-c.done
		return c.result, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.result, nil
	case <-timer.C:
		return nil, fmt.Errorf("call %q: %w", c.request.RequestID(), ErrTimeout)
	}
}

// Registry correlates replies to calls, per session. Each client owns one
// registry, shared by all of its callers and its receive loop.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*transport.Session]*callSet
}

type callSet struct {
	mu    sync.Mutex
	calls map[string]*Call
}

// NewRegistry creates an empty pending-call registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*transport.Session]*callSet)}
}

// Install registers a session with the registry. Installing an
// already-installed session is a no-op.
func (r *Registry) Install(session *transport.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session]; !ok {
		r.sessions[session] = &callSet{calls: make(map[string]*Call)}
	}
}

// Installed reports whether the session has an entry in the registry.
func (r *Registry) Installed(session *transport.Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[session]
	return ok
}

// Outstanding returns the number of calls currently waiting on the session.
func (r *Registry) Outstanding(session *transport.Session) int {
	set := r.set(session)
	if set == nil {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.calls)
}

func (r *Registry) set(session *transport.Session) *callSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[session]
}

// StartTracking creates the waiter for a request. The request must expect a
// response, the session must be installed, and the request id must not
// already be tracked.
func (r *Registry) StartTracking(session *transport.Session, request *message.Message) (*Call, error) {
	if !request.ExpectsResponse() {
		return nil, errors.New("cannot track a message which is not expecting a response")
	}
	set := r.set(session)
	if set == nil {
		return nil, errors.New("cannot track request: session is not registered")
	}

	id := request.RequestID()
	call := newCall(request)

	set.mu.Lock()
	defer set.mu.Unlock()
	if _, exists := set.calls[id]; exists {
		return nil, fmt.Errorf("request %q is already waiting for a response", id)
	}
	set.calls[id] = call
	return call, nil
}

// Signal completes the waiter for a reply. Reports false when no waiter is
// tracking the id (a late or unmatched reply) or the session is unknown;
// such replies are dropped by the caller.
func (r *Registry) Signal(session *transport.Session, id string, result *message.Message) bool {
	set := r.set(session)
	if set == nil {
		return false
	}
	set.mu.Lock()
	call := set.calls[id]
	set.mu.Unlock()
	if call == nil {
		return false
	}
	return call.complete(result)
}

// StopTracking removes the waiter unconditionally and returns it, or nil if
// none was tracked. Invoked exactly once per waiter, on completion or
// timeout.
func (r *Registry) StopTracking(session *transport.Session, id string) *Call {
	set := r.set(session)
	if set == nil {
		return nil
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	call := set.calls[id]
	delete(set.calls, id)
	return call
}

// Purge drops the session and completes every outstanding waiter with a
// terminal "session closed" error envelope so blocked callers unblock.
func (r *Registry) Purge(session *transport.Session) {
	r.mu.Lock()
	set := r.sessions[session]
	delete(r.sessions, session)
	r.mu.Unlock()
	if set == nil {
		return
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	for id, call := range set.calls {
		call.complete(message.NewErrorResponse(call.request, ErrSessionClosed, 0))
		delete(set.calls, id)
	}
}
