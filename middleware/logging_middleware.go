package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"ws-rpc/message"
)

// Logging records the operation name, duration, and outcome of every
// dispatched request.
func Logging(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (json.RawMessage, error) {
			start := time.Now()
			body, err := next(ctx, req)
			evt := log.Info()
			if err != nil {
				evt = log.Error().Err(err)
			}
			evt.Str("op", req.Op).Dur("duration", time.Since(start)).Msg("handled message")
			return body, err
		}
	}
}
