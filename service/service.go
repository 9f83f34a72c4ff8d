// Package service implements the serving side of the framework: an
// endpoint that tracks its open sessions, keeps them alive with periodic
// pings, supports broadcast, and answers the built-in STATUS and
// CLOSE_ALL_SESSIONS operations.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"ws-rpc/codec"
	"ws-rpc/endpoint"
	"ws-rpc/handler"
	"ws-rpc/message"
	"ws-rpc/middleware"
	"ws-rpc/proxy"
	"ws-rpc/status"
	"ws-rpc/transport"
	"ws-rpc/worker"
)

// sharedSessions is the default session registry, shared by every service
// that does not bring its own.
var sharedSessions = NewSessions()

// Config assembles a service. Everything is optional except the handlers
// the implementation wants to expose.
type Config struct {
	// Handlers is the operation table. The built-in operations are
	// registered into it without clobbering user entries.
	Handlers *handler.Manager

	// Middleware wraps every request dispatch.
	Middleware []middleware.Middleware

	// Proxies holds the service's dependencies. A nil manager gets
	// created empty.
	Proxies *proxy.Manager

	// Sessions overrides the shared session registry (mostly for tests).
	Sessions *Sessions

	// ExtraStatus contributes the implementation slot of the STATUS
	// payload. Errors and panics raised here never fail the STATUS call:
	// the slot carries serialized error details instead.
	ExtraStatus func(ctx context.Context, request json.RawMessage) (any, error)

	// BeforeOpen validates a new session; a non-nil error rejects it and
	// closes the session with the error as reason.
	BeforeOpen func(session *transport.Session) error

	// BeforeClose runs cleanup when a session ends.
	BeforeClose func(session *transport.Session)

	// Log is the component logger.
	Log zerolog.Logger
}

// Service is an endpoint exposing a handler table, tracked in a session
// registry keyed by the service's identifier.
type Service struct {
	id          string
	endpoint    *endpoint.Endpoint
	handlers    *handler.Manager
	sessions    *Sessions
	proxies     *proxy.Manager
	extraStatus func(ctx context.Context, request json.RawMessage) (any, error)
	beforeOpen  func(session *transport.Session) error
	beforeClose func(session *transport.Session)
	log         zerolog.Logger
}

// New creates a service identified by id and registers it with the
// process-wide keep-alive scheduler.
func New(id string, cfg Config) (*Service, error) {
	if id == "" {
		return nil, fmt.Errorf("service id cannot be empty")
	}
	if cfg.Handlers == nil {
		cfg.Handlers = handler.NewManager()
	}
	if cfg.Proxies == nil {
		cfg.Proxies = proxy.NewManager()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = sharedSessions
	}

	s := &Service{
		id:          id,
		handlers:    cfg.Handlers,
		sessions:    cfg.Sessions,
		proxies:     cfg.Proxies,
		extraStatus: cfg.ExtraStatus,
		beforeOpen:  cfg.BeforeOpen,
		beforeClose: cfg.BeforeClose,
		log:         cfg.Log,
	}
	s.registerBuiltins()

	s.endpoint = endpoint.New(endpoint.Config{
		Handlers:   cfg.Handlers,
		Middleware: cfg.Middleware,
		// Services do not wait on replies; a service that needs to call
		// another service does so through a proxy client.
		OnResponse: nil,
		Log:        cfg.Log,
	})

	registerKeepAlive(s.sessions)
	return s, nil
}

// registerBuiltins installs the default handlers; user registrations for
// the same operations win.
func (s *Service) registerBuiltins() {
	s.handlers.SetDefault(message.OpStatus, func(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(s.StatusSnapshot(ctx, body))
	})

	s.handlers.SetDefault(message.OpCloseAllSessions, handler.Typed(codec.CloseAllSessions,
		func(ctx context.Context, _ codec.None) (codec.None, error) {
			s.CloseAllSessions("service is going away")
			return codec.None{}, nil
		}))

	s.handlers.SetDefault(message.OpDependencyUpdated, handler.Typed(codec.DependencyUpdated,
		func(ctx context.Context, name string) (codec.None, error) {
			if s.proxies.Invalidate(name) {
				s.log.Info().Str("dependency", name).Msg("dependency location updated; cached client discarded")
			} else {
				s.log.Debug().Str("dependency", name).Msg("dependency update for unknown proxy ignored")
			}
			return codec.None{}, nil
		}))
}

// ID returns the service identifier.
func (s *Service) ID() string { return s.id }

// Handlers returns the service's operation table.
func (s *Service) Handlers() *handler.Manager { return s.handlers }

// Proxies returns the service's dependency proxies.
func (s *Service) Proxies() *proxy.Manager { return s.proxies }

// Sessions returns the session registry tracking this service.
func (s *Service) Sessions() *Sessions { return s.sessions }

// Attach runs the endpoint receive loop for one accepted session, tracking
// it for keep-alive and broadcast for as long as it lives. It blocks until
// the session ends.
func (s *Service) Attach(ctx context.Context, session *transport.Session) error {
	if s.beforeOpen != nil {
		if err := s.beforeOpen(session); err != nil {
			s.log.Warn().Err(err).Str("session", session.ID()).Msg("session rejected")
			_ = session.Close(websocket.StatusPolicyViolation, err.Error())
			return err
		}
	}

	s.log.Info().Str("service", s.id).Str("session", session.ID()).Msg("session opened")
	s.sessions.Add(s.id, session)
	defer func() {
		s.sessions.Remove(s.id, session)
		if s.beforeClose != nil {
			s.beforeClose(session)
		}
		s.log.Info().Str("service", s.id).Str("session", session.ID()).Msg("session closed")
	}()

	return s.endpoint.Serve(ctx, session)
}

// Broadcast fans a message out to every session of the service and returns
// a per-session completion future carrying the send error, if any.
// Delivery is best-effort: one failure does not stop the others.
func (s *Service) Broadcast(ctx context.Context, msg *message.Message) map[string]<-chan error {
	result := make(map[string]<-chan error)
	for _, session := range s.sessions.Snapshot(s.id) {
		session := session
		done := make(chan error, 1)
		// Each session gets its own copy of the envelope: Send stamps
		// SentMillis, and the stamps must not race across sessions.
		copied := *msg
		if err := worker.Submit(func() { done <- session.Send(ctx, &copied) }); err != nil {
			done <- err
		}
		result[session.ID()] = done
	}
	return result
}

// CloseAllSessions closes every session of the service in parallel with the
// given reason.
func (s *Service) CloseAllSessions(reason string) {
	var wg sync.WaitGroup
	for _, session := range s.sessions.Snapshot(s.id) {
		session := session
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := session.Close(websocket.StatusGoingAway, reason); err != nil {
				s.log.Warn().Err(err).Str("session", session.ID()).Msg("failed to close session")
			}
		}
		if err := worker.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}

// StatusSnapshot builds the STATUS payload: host telemetry plus the
// implementation extension. A failing extension yields a status whose
// extension slot contains the serialized error - never an ERROR reply.
func (s *Service) StatusSnapshot(ctx context.Context, request json.RawMessage) status.ServiceStatus {
	var extra any
	if s.extraStatus != nil {
		extra = s.safeExtraStatus(ctx, request)
	}
	return status.NewServiceStatus(extra)
}

func (s *Service) safeExtraStatus(ctx context.Context, request json.RawMessage) (extra any) {
	defer func() {
		if r := recover(); r != nil {
			extra = message.NewErrorDetails(fmt.Errorf("failed to process status: %v", r), message.DefaultMaxStackDepth)
		}
	}()
	value, err := s.extraStatus(ctx, request)
	if err != nil {
		return message.NewErrorDetails(fmt.Errorf("failed to process status: %w", err), message.DefaultMaxStackDepth)
	}
	return value
}
