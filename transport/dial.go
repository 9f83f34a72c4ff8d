package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// Dial opens a WebSocket connection to addr (a ws:// or wss:// URL) using
// the framework subprotocol and wraps it in a Session.
func Dial(ctx context.Context, addr string, header http.Header, log zerolog.Logger) (*Session, error) {
	conn, _, err := websocket.Dial(ctx, addr, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   header,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w", addr, err)
	}

	// Large envelopes are streamed as a single logical message; lift the
	// library's default 32 KiB read ceiling so they can be drained.
	conn.SetReadLimit(MaxMessageSize)

	session := NewSession(conn, log)
	log.Debug().Str("session", session.ID()).Str("addr", addr).Msg("connected")
	return session, nil
}
