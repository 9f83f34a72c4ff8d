// Package transport adapts message envelopes onto WebSocket frames.
//
// A Session wraps one WebSocket connection. Sends are serialized with a
// per-session mutex so the completion of one send happens-before the next
// begins; receives are sequential by construction (one reader goroutine
// drains one frame at a time). The frame representation is chosen by size:
//
//	serialized envelope ≤ MaxTextMessageLength → one text frame
//	serialized envelope > MaxTextMessageLength → one streamed binary frame
//
// A failed decode never kills the session - it surfaces to the endpoint
// engine as an ordinary error.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"ws-rpc/message"
)

// MaxTextMessageLength is the largest serialized envelope (in bytes) that is
// sent as a single text frame. Anything larger is streamed as UTF-8 bytes in
// one binary message.
const MaxTextMessageLength = 65536

// Subprotocol is the WebSocket subprotocol advertised during the handshake.
const Subprotocol = "json"

// MaxMessageSize is the read ceiling applied to every connection; it bounds
// a single logical message, including streamed binary envelopes.
const MaxMessageSize = 1 << 30

// ErrSessionClosed is returned when sending on a session that is no longer
// open.
var ErrSessionClosed = errors.New("websocket session is not open")

// Session is one WebSocket connection owned by exactly one client or one
// service-side endpoint.
type Session struct {
	id     string
	conn   *websocket.Conn
	sendMu chan struct{} // 1-slot semaphore; completion of a send happens-before the next
	open   atomic.Bool
	log    zerolog.Logger
}

// NewSession wraps an accepted or dialed WebSocket connection.
func NewSession(conn *websocket.Conn, log zerolog.Logger) *Session {
	s := &Session{
		id:     ulid.Make().String(),
		conn:   conn,
		sendMu: make(chan struct{}, 1),
		log:    log,
	}
	s.open.Store(true)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// IsOpen reports whether the session can still send and receive.
func (s *Session) IsOpen() bool { return s.open.Load() }

// Send serializes msg and writes it as one logical WebSocket message.
// SentMillis is stamped immediately before transmission for non-reply
// envelopes (replies carry the request's send time instead).
func (s *Session) Send(ctx context.Context, msg *message.Message) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}
	if !s.IsOpen() {
		return ErrSessionClosed
	}

	// Serialize sends: frame interleaving aside, the contract is that one
	// send completes before the next begins.
	select {
	case s.sendMu <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sendMu }()

	if !msg.IsResponse() {
		msg.SentMillis = message.NowMillis()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	if messageKind(len(data)) == websocket.MessageText {
		if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
			return fmt.Errorf("failed to send text message: %w", err)
		}
		return nil
	}

	// Large message: stream the UTF-8 bytes through a binary writer and
	// flush at the end by closing it.
	s.log.Debug().Int("bytes", len(data)).Msg("sending large message as binary stream")
	w, err := s.conn.Writer(ctx, websocket.MessageBinary)
	if err != nil {
		return fmt.Errorf("failed to open binary writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to stream message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to flush message stream: %w", err)
	}
	return nil
}

// Receive blocks until one complete logical message is available and
// returns its UTF-8 payload. Text frames pass through directly; binary
// frames are drained to a string. A transport error marks the session
// closed.
func (s *Session) Receive(ctx context.Context) (string, error) {
	_, r, err := s.conn.Reader(ctx)
	if err != nil {
		s.open.Store(false)
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		s.open.Store(false)
		return "", err
	}
	return string(data), nil
}

// Ping sends a WebSocket ping and waits for the matching pong, returning
// the measured round trip. A lost pong is not fatal to the session; the
// caller decides what to do with the error.
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.conn.Ping(ctx); err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	s.log.Debug().Str("session", s.id).Dur("rtt", rtt).Msg("pong received")
	return rtt, nil
}

// Close closes the session with a status code and reason. Closing an
// already-closed session is a no-op.
func (s *Session) Close(code websocket.StatusCode, reason string) error {
	if !s.open.Swap(false) {
		return nil
	}
	return s.conn.Close(code, reason)
}

// messageKind selects the frame representation for a serialized envelope of
// the given size.
func messageKind(size int) websocket.MessageType {
	if size <= MaxTextMessageLength {
		return websocket.MessageText
	}
	return websocket.MessageBinary
}

// Decode parses one received payload into a message envelope.
func Decode(payload string) (*message.Message, error) {
	var msg message.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}
