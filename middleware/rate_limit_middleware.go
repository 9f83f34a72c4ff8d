package middleware

import (
	"context"
	"encoding/json"
	"errors"

	"golang.org/x/time/rate"

	"ws-rpc/message"
)

// RateLimit creates a token-bucket limiter shared by every session of the
// endpoint. A rejected request turns into an ordinary ERROR reply.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (json.RawMessage, error) {
			if !limiter.Allow() {
				return nil, errors.New("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
