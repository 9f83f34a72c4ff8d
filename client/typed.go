package client

import (
	"context"
	"time"

	"ws-rpc/codec"
	"ws-rpc/worker"
)

// Send sends a typed fire-and-forget message.
func Send[Req, Res any](ctx context.Context, c *Client, mt codec.MessageType[Req, Res], body Req) error {
	raw, err := mt.Request().Serialize(body)
	if err != nil {
		return err
	}
	return c.SendRaw(ctx, mt.Name(), raw)
}

// Request sends a typed request and blocks until the reply or the timeout.
// A timeout of zero waits forever.
func Request[Req, Res any](ctx context.Context, c *Client, mt codec.MessageType[Req, Res], body Req, timeout time.Duration) (*Response[Res], error) {
	raw, err := mt.Request().Serialize(body)
	if err != nil {
		return nil, err
	}
	reply, err := c.RequestRaw(ctx, mt.Name(), raw, timeout)
	if err != nil {
		return nil, err
	}
	return NewResponse(reply, mt.Response())
}

// Result delivers the outcome of an asynchronous request.
type Result[Res any] struct {
	Response *Response[Res]
	Err      error
}

// RequestAsync sends a typed request without blocking the caller; the
// result arrives on the returned channel. The context applies to sending
// the request only: once it is sent, the result is delivered on reply,
// timeout, or session close whether or not the context was cancelled, and
// the sent request is never retracted.
func RequestAsync[Req, Res any](ctx context.Context, c *Client, mt codec.MessageType[Req, Res], body Req, timeout time.Duration) <-chan Result[Res] {
	out := make(chan Result[Res], 1)
	if err := worker.Submit(func() {
		response, err := Request(ctx, c, mt, body, timeout)
		out <- Result[Res]{Response: response, Err: err}
	}); err != nil {
		out <- Result[Res]{Err: err}
	}
	return out
}
