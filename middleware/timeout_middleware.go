package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ws-rpc/message"
)

// Timeout bounds handler execution. The handler keeps running in its own
// goroutine after the deadline (there is no way to preempt it), but the
// caller gets an ERROR reply as soon as the context expires.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (json.RawMessage, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				body json.RawMessage
				err  error
			}
			done := make(chan outcome, 1)
			go func() {
				body, err := next(ctx, req)
				done <- outcome{body, err}
			}()

			select {
			case out := <-done:
				return out.body, out.err
			case <-ctx.Done():
				return nil, errors.New("request timed out")
			}
		}
	}
}
