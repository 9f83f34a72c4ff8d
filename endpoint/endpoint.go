// Package endpoint implements the session-level receive loop shared by
// clients and services.
//
// For every inbound frame the engine either dispatches a handler (requests)
// or routes the reply to the role-specific hook (clients forward to the
// pending registry, services ignore). Any failure along the way - decode,
// unknown operation, handler error, handler panic - becomes an ERROR
// envelope sent in place of the reply; nothing ever escapes the receive
// loop.
//
//	inbound frame ──decode──► Message ──┬─ reply?   ──► OnResponse hook
//	                                    └─ request? ──► middleware ► handler ─► RESPONSE
//	                       any failure ───────────────────────────────────────► ERROR
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"ws-rpc/handler"
	"ws-rpc/message"
	"ws-rpc/middleware"
	"ws-rpc/transport"
)

// Config assembles an endpoint by explicit composition: a handler table and
// optional hooks, wired in by the client or service constructor.
type Config struct {
	// Handlers is the operation table. A nil table is replaced by an empty
	// one.
	Handlers *handler.Manager

	// Middleware wraps every request dispatch, in registration order.
	Middleware []middleware.Middleware

	// OnResponse receives reply envelopes. Clients route them to their
	// pending registry; services leave this nil and replies are dropped.
	OnResponse func(ctx context.Context, session *transport.Session, response *message.Message)

	// Log is the component logger.
	Log zerolog.Logger
}

// Endpoint drives the receive loop for any number of sessions. Dispatch is
// single-threaded per session: one frame is fully handled before the next
// is read.
type Endpoint struct {
	handlers   *handler.Manager
	onResponse func(ctx context.Context, session *transport.Session, response *message.Message)
	invoke     middleware.HandlerFunc
	log        zerolog.Logger
}

// New builds an endpoint engine from its configuration.
func New(cfg Config) *Endpoint {
	if cfg.Handlers == nil {
		cfg.Handlers = handler.NewManager()
	}

	e := &Endpoint{
		handlers:   cfg.Handlers,
		onResponse: cfg.OnResponse,
		log:        cfg.Log,
	}

	// Build the dispatch chain once: middleware wraps handler lookup plus
	// invocation, so a missing handler surfaces through the same error
	// path as a failing one.
	dispatch := func(ctx context.Context, req *message.Message) (json.RawMessage, error) {
		h := e.handlers.Get(req.Op)
		if h == nil {
			return nil, fmt.Errorf("Unknown message type '%s'", req.Op)
		}
		return h(ctx, req.Body)
	}
	e.invoke = middleware.Chain(cfg.Middleware...)(dispatch)

	return e
}

// Handlers returns the endpoint's operation table.
func (e *Endpoint) Handlers() *handler.Manager { return e.handlers }

// Serve runs the receive loop for one session until the session or the
// context ends. The returned error describes why the loop stopped; a normal
// peer close returns nil.
func (e *Endpoint) Serve(ctx context.Context, session *transport.Session) error {
	for {
		payload, err := session.Receive(ctx)
		if err != nil {
			if isNormalClosure(err) || ctx.Err() != nil {
				e.log.Debug().Str("session", session.ID()).Msg("session closed")
				return nil
			}
			e.OnError(ctx, session, err)
			return err
		}
		e.HandleMessage(ctx, session, payload)
	}
}

// HandleMessage processes one complete inbound payload. It never panics and
// never returns an error: every failure is converted into an ERROR envelope
// (or a log entry when even that fails).
func (e *Endpoint) HandleMessage(ctx context.Context, session *transport.Session, payload string) {
	startProcessing := message.NowMillis()

	var msg *message.Message
	err := e.process(ctx, session, payload, startProcessing, &msg)
	if err == nil {
		return
	}

	// Error path: whatever was raised becomes an ERROR envelope sent in
	// place of the reply. A failure while handling the failure is
	// swallowed - the receive loop must survive.
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("panic while sending error response")
		}
	}()
	errMsg := message.NewErrorResponse(msg, err, 0)
	errMsg.StartProcessingMillis = startProcessing
	errMsg.StopProcessingMillis = message.NowMillis()
	if sendErr := session.Send(ctx, errMsg); sendErr != nil {
		e.log.Error().Err(sendErr).Str("session", session.ID()).Msg("failed to send error response")
	}
}

// process performs steps decode → stamp → route → dispatch → reply,
// converting handler panics into errors.
func (e *Endpoint) process(ctx context.Context, session *transport.Session, payload string, startProcessing *int64, out **message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	msg, err := transport.Decode(payload)
	if err != nil {
		return err
	}
	// From here on the request is known, so the error path can correlate
	// its ERROR reply.
	*out = msg
	if msg.Op == "" {
		return errors.New("message op is null")
	}
	msg.ReceivedMillis = message.NowMillis()

	if msg.IsResponse() {
		if e.onResponse != nil {
			e.onResponse(ctx, session, msg)
		}
		return nil
	}

	body, err := e.invoke(ctx, msg)
	if err != nil {
		return err
	}

	// Whatever the handler returned becomes the RESPONSE body, iff the
	// request expected a response.
	if !msg.ExpectsResponse() {
		return nil
	}
	response, err := message.NewSuccessResponse(msg, body)
	if err != nil {
		return err
	}
	response.StartProcessingMillis = startProcessing
	response.StopProcessingMillis = message.NowMillis()
	if session.IsOpen() {
		return session.Send(ctx, response)
	}
	return nil
}

// OnError handles a transport-level fault. The error is classified for
// logging, and when the session is still open the peer is notified with a
// correlation-less ERROR envelope; the session is not closed pre-emptively.
func (e *Endpoint) OnError(ctx context.Context, session *transport.Session, err error) {
	var kind string
	var closeErr websocket.CloseError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var netErr net.Error
	switch {
	case errors.As(err, &closeErr), errors.Is(err, io.EOF), errors.As(err, &netErr):
		kind = "connection fault"
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		kind = "decode fault"
	default:
		kind = "uncaught session fault"
	}
	e.log.Error().Err(err).Str("session", session.ID()).Str("kind", kind).Msg("session error")

	if !session.IsOpen() {
		return
	}
	errMsg := message.NewErrorResponse(nil, err, 0)
	if sendErr := session.Send(ctx, errMsg); sendErr != nil {
		e.log.Error().Err(sendErr).Str("session", session.ID()).Msg("failed to notify peer about session error")
	}
}

// isNormalClosure reports whether err represents an orderly close of the
// peer or the local side.
func isNormalClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}
