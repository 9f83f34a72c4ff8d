// Package server is the transport host: an HTTP server that upgrades
// WebSocket sessions for hosted services and exposes their health route.
//
// Connection pipeline:
//
//	GET {wsPath} → upgrade (subprotocol "json") → transport.Session
//	  → service.Attach (blocking receive loop) → session closed on return
//	GET {healthPath} → service status JSON
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"ws-rpc/service"
	"ws-rpc/transport"
)

// Server hosts one or more services on a single listener.
type Server struct {
	engine          *gin.Engine
	httpSrv         *http.Server
	addr            string
	boundAddr       atomic.Value // string, valid after Start
	shutdownTimeout time.Duration
	hosted          []*service.Service
	log             zerolog.Logger
}

// Option configures a server.
type Option func(*Server)

// WithShutdownTimeout bounds the graceful-shutdown wait.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// New creates a server that will bind to addr (use port 0 to pick a free
// port).
func New(addr string, log zerolog.Logger, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(recoveryWithLogger(log), requestLogger(log))

	s := &Server{
		engine:          engine,
		addr:            addr,
		shutdownTimeout: 5 * time.Second,
		log:             log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Host mounts a service: its WebSocket endpoint under wsPath and its
// health route under healthPath (empty healthPath skips the route). Must
// be called before Start.
func (s *Server) Host(svc *service.Service, wsPath, healthPath string) error {
	if !strings.HasPrefix(wsPath, "/") {
		return fmt.Errorf("wsPath must start with a '/' character")
	}
	s.hosted = append(s.hosted, svc)

	s.engine.GET(wsPath, s.upgradeHandler(svc))
	if healthPath != "" {
		if !strings.HasPrefix(healthPath, "/") {
			return fmt.Errorf("healthPath must start with a '/' character")
		}
		s.engine.GET(healthPath, func(c *gin.Context) {
			c.JSON(http.StatusOK, svc.StatusSnapshot(c.Request.Context(), nil))
		})
	}
	return nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", s.addr, err)
	}
	s.boundAddr.Store(listener.Addr().String())

	s.httpSrv = &http.Server{Handler: s.engine}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server error")
		}
	}()

	s.log.Info().Str("addr", s.BoundAddr()).Msg("websocket server started")
	return nil
}

// Shutdown closes every hosted service's sessions and stops the HTTP
// server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, svc := range s.hosted {
		svc.CloseAllSessions("service is going away")
	}
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// BoundAddr returns the actual listen address; only valid after Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}

// WebSocketURL returns the ws:// URL for a hosted path.
func (s *Server) WebSocketURL(wsPath string) string {
	return "ws://" + s.BoundAddr() + wsPath
}

// HealthURL returns the http:// URL for a hosted health path.
func (s *Server) HealthURL(healthPath string) string {
	return "http://" + s.BoundAddr() + healthPath
}

// upgradeHandler accepts the WebSocket handshake and hands the session to
// the service for the rest of its life.
func (s *Server) upgradeHandler(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			Subprotocols: []string{transport.Subprotocol},
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("websocket accept failed")
			return
		}
		conn.SetReadLimit(transport.MaxMessageSize)

		session := transport.NewSession(conn, s.log)
		if err := svc.Attach(c.Request.Context(), session); err != nil {
			s.log.Debug().Err(err).Str("session", session.ID()).Msg("session ended with error")
		}
		_ = session.Close(websocket.StatusNormalClosure, "")
	}
}

// recoveryWithLogger converts handler panics into 500s and log entries.
func recoveryWithLogger(log zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		log.Error().Interface("panic", err).Str("path", c.Request.URL.Path).Msg("http handler panic")
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// requestLogger logs basic request info. WebSocket upgrades log when the
// session ends, which doubles as a session-duration record.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
