package endpoint

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ws-rpc/handler"
	"ws-rpc/message"
	"ws-rpc/transport"
)

// The engine must survive every malformed input without panicking or
// propagating; on a dead session even the error reply is swallowed into a
// log entry.
func TestHandleMessageSurvivesGarbage(t *testing.T) {
	e := New(Config{Log: zerolog.Nop()})
	session := &transport.Session{} // not open: sends fail, loop survives

	assert.NotPanics(t, func() {
		e.HandleMessage(context.Background(), session, "{not json")
		e.HandleMessage(context.Background(), session, `{"id":null,"op":null}`)
		e.HandleMessage(context.Background(), session, `{"op":""}`)
	})
}

func TestHandleMessageSurvivesPanickingHandler(t *testing.T) {
	handlers := handler.NewManager()
	handlers.Set("BOOM", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("handler exploded")
	})
	e := New(Config{Handlers: handlers, Log: zerolog.Nop()})

	assert.NotPanics(t, func() {
		e.HandleMessage(context.Background(), &transport.Session{}, `{"op":"BOOM"}`)
	})
}

func TestReplyRoutedToOnResponse(t *testing.T) {
	var seen *message.Message
	e := New(Config{
		OnResponse: func(_ context.Context, _ *transport.Session, response *message.Message) {
			seen = response
		},
		Log: zerolog.Nop(),
	})

	req, err := message.New(true, "GREET", nil)
	require.NoError(t, err)
	reply, err := message.NewSuccessResponse(req, json.RawMessage(`"hi"`))
	require.NoError(t, err)
	payload, err := json.Marshal(reply)
	require.NoError(t, err)

	e.HandleMessage(context.Background(), &transport.Session{}, string(payload))
	require.NotNil(t, seen)
	assert.Equal(t, *req.ID, *seen.ID)
	// The engine stamps arrival on every inbound envelope.
	assert.NotNil(t, seen.ReceivedMillis)
}

func TestDispatchIsCaseInsensitive(t *testing.T) {
	handlers := handler.NewManager()
	called := false
	handlers.Set("GREET", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		called = true
		return nil, nil
	})
	e := New(Config{Handlers: handlers, Log: zerolog.Nop()})

	// Fire-and-forget (no id): no reply is attempted on the dead session.
	e.HandleMessage(context.Background(), &transport.Session{}, `{"op":"greet"}`)
	assert.True(t, called)
}
