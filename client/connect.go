package client

import (
	"context"
	"net/http"

	"ws-rpc/transport"
)

// ConnectOptions extends Options with dial parameters.
type ConnectOptions struct {
	Options

	// Header carries extra HTTP headers for the WebSocket handshake.
	Header http.Header
}

// Connect dials addr, installs the fresh session on a new client, and
// starts its receive loop. This is the only way to obtain a client bound to
// a fresh connection.
func Connect(ctx context.Context, addr string, opts ConnectOptions) (*Client, error) {
	c := New(opts.Options)
	if err := c.connect(ctx, addr, opts.Header); err != nil {
		return nil, err
	}
	return c, nil
}

// ConnectAs dials addr and hands the connected framework client to wrap, so
// typed client implementations can embed *Client:
//
//	type GreetClient struct{ *client.Client }
//	gc, err := client.ConnectAs(ctx, addr, opts, func(c *client.Client) *GreetClient {
//		return &GreetClient{c}
//	})
func ConnectAs[T any](ctx context.Context, addr string, opts ConnectOptions, wrap func(*Client) T) (T, error) {
	var zero T
	c, err := Connect(ctx, addr, opts)
	if err != nil {
		return zero, err
	}
	return wrap(c), nil
}

func (c *Client) connect(ctx context.Context, addr string, header http.Header) error {
	session, err := transport.Dial(ctx, addr, header, c.log)
	if err != nil {
		return err
	}
	if _, err := c.SetSession(session); err != nil {
		return err
	}

	// The receive loop outlives the dial context: the session stays open
	// until the peer closes it, the transport fails, or Close is called.
	go func() {
		if err := c.Serve(context.Background(), session); err != nil {
			c.log.Debug().Err(err).Str("session", session.ID()).Msg("client receive loop ended")
		}
	}()
	return nil
}
