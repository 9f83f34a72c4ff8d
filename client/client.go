// Package client implements the calling side of the framework: it wraps one
// WebSocket session, builds request envelopes, owns the waiters for their
// replies, and exposes synchronous, asynchronous, and fire-and-forget call
// APIs.
//
//	goroutine-1 ──Request(id=A)──┐
//	goroutine-2 ──Request(id=B)──┼──→ single session ──→ service
//	goroutine-3 ──Send (no id)───┘
//
//	receive loop: ←── reply(id=B) → pending registry → goroutine-2 wakes up
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"ws-rpc/endpoint"
	"ws-rpc/handler"
	"ws-rpc/message"
	"ws-rpc/middleware"
	"ws-rpc/pending"
	"ws-rpc/transport"
)

// ErrNoSession is returned by call methods when no open session is
// installed.
var ErrNoSession = errors.New("client has no open session; connect or call SetSession first")

// Client is an endpoint that initiates calls on a single managed session.
type Client struct {
	mu       sync.RWMutex
	session  *transport.Session
	pending  *pending.Registry
	endpoint *endpoint.Endpoint
	log      zerolog.Logger
}

// Options configures a client.
type Options struct {
	// Handlers lets the client serve inbound requests too (a service may
	// push DEPENDENCY_UPDATED or user-defined notifications down the same
	// session). Optional.
	Handlers *handler.Manager

	// Middleware wraps inbound request dispatch.
	Middleware []middleware.Middleware

	// Log is the component logger.
	Log zerolog.Logger
}

// New creates an unconnected client. Most callers use Connect instead; New
// is for installing an externally-accepted session via SetSession + Serve.
func New(opts Options) *Client {
	if opts.Handlers == nil {
		opts.Handlers = handler.NewManager()
	}

	c := &Client{
		pending: pending.NewRegistry(),
		log:     opts.Log,
	}

	// An ERROR envelope without a correlation id is not a reply - it is
	// the peer reporting a fault it could not attribute to any request.
	// Surface it in the log instead of dropping it silently.
	opts.Handlers.SetDefault(message.OpError, func(_ context.Context, body json.RawMessage) (json.RawMessage, error) {
		c.log.Error().RawJSON("details", nonNullBody(body)).Msg("received uncorrelated error from peer")
		return nil, nil
	})

	c.endpoint = endpoint.New(endpoint.Config{
		Handlers:   opts.Handlers,
		Middleware: opts.Middleware,
		OnResponse: c.handleResponse,
		Log:        opts.Log,
	})
	return c
}

// handleResponse routes a reply envelope to its waiter. Replies nobody is
// waiting on are dropped with a log entry.
func (c *Client) handleResponse(_ context.Context, session *transport.Session, response *message.Message) {
	id := response.RequestID()
	if !c.pending.Signal(session, id, response) {
		c.log.Debug().Str("id", id).Msg("ignored response with no waiter")
		return
	}

	if response.ReceivedMillis != nil && response.SentMillis != nil &&
		response.StartProcessingMillis != nil && response.StopProcessingMillis != nil {
		roundtrip := *response.ReceivedMillis - *response.SentMillis
		processing := *response.StopProcessingMillis - *response.StartProcessingMillis
		c.log.Debug().
			Str("id", id).
			Int64("roundtrip_ms", roundtrip).
			Int64("processing_ms", processing).
			Int64("network_latency_ms", roundtrip-processing).
			Msg("response received")
	}
}

// SetSession installs or replaces the managed session and returns the
// previous one; the caller must close the previous session if it is no
// longer needed. A nil or closed session is rejected.
func (c *Client) SetSession(session *transport.Session) (*transport.Session, error) {
	if session == nil {
		return nil, errors.New("session cannot be nil")
	}
	if !session.IsOpen() {
		return nil, errors.New("session must be open to use it with a client")
	}

	c.mu.Lock()
	previous := c.session
	c.session = session
	c.mu.Unlock()

	c.pending.Install(session)
	return previous, nil
}

// Session returns the managed session, or nil.
func (c *Client) Session() *transport.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// IsOpen reports whether a session is installed and still open.
func (c *Client) IsOpen() bool {
	s := c.Session()
	return s != nil && s.IsOpen()
}

// Serve runs the receive loop for the installed session and purges its
// pending calls when the loop ends, completing every outstanding waiter
// with a "session closed" error. Connect starts this in a goroutine.
func (c *Client) Serve(ctx context.Context, session *transport.Session) error {
	defer c.pending.Purge(session)
	return c.endpoint.Serve(ctx, session)
}

// Close closes the managed session with a normal-closure reason and purges
// its pending calls.
func (c *Client) Close() error {
	return c.CloseWithReason(websocket.StatusNormalClosure, "client is closing session")
}

// CloseWithReason closes the managed session with an explicit status code
// and reason.
func (c *Client) CloseWithReason(code websocket.StatusCode, reason string) error {
	s := c.Session()
	if s == nil {
		return errors.New("session is not set for this client")
	}
	err := s.Close(code, reason)
	c.pending.Purge(s)
	return err
}

// SendRaw sends a fire-and-forget message: no waiter is registered and the
// envelope carries no id.
func (c *Client) SendRaw(ctx context.Context, op string, body json.RawMessage) error {
	s := c.Session()
	if s == nil || !s.IsOpen() {
		return ErrNoSession
	}
	msg, err := message.New(false, op, body)
	if err != nil {
		return err
	}
	return s.Send(ctx, msg)
}

// RequestRaw sends a request and blocks until its reply, the timeout, or
// session close. A timeout of zero waits forever. The returned envelope is
// the reply - which is a synthesized ERROR envelope when the call timed out
// or the session closed, so the caller always gets a response to adjudicate.
func (c *Client) RequestRaw(ctx context.Context, op string, body json.RawMessage, timeout time.Duration) (*message.Message, error) {
	if timeout < 0 {
		return nil, pending.ErrNegativeTimeout
	}
	s := c.Session()
	if s == nil || !s.IsOpen() {
		return nil, ErrNoSession
	}

	msg, err := message.New(true, op, body)
	if err != nil {
		return nil, err
	}

	// Register the waiter before transmitting, so the reply cannot race
	// past an empty registry.
	call, err := c.pending.StartTracking(s, msg)
	if err != nil {
		return nil, err
	}
	defer c.pending.StopTracking(s, msg.RequestID())

	if err := s.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	reply, err := call.Await(timeout)
	if err != nil {
		if errors.Is(err, pending.ErrTimeout) {
			return message.NewErrorResponse(msg, err, 0), nil
		}
		return nil, err
	}
	return reply, nil
}

func nonNullBody(body json.RawMessage) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	return body
}
