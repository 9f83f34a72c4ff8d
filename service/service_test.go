package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ws-rpc/message"
	"ws-rpc/transport"
)

func TestSessionsEmptySetRemovesKey(t *testing.T) {
	r := NewSessions()
	s1 := &transport.Session{}
	s2 := &transport.Session{}

	r.Add("svc", s1)
	r.Add("svc", s2)
	assert.Equal(t, 2, r.Count("svc"))
	assert.True(t, r.Has("svc"))

	r.Remove("svc", s1)
	assert.True(t, r.Has("svc"))

	// The key disappears with the last session.
	r.Remove("svc", s2)
	assert.False(t, r.Has("svc"))
	assert.Empty(t, r.ServiceIDs())
}

func TestSessionsRemoveUnknownServiceIsNoop(t *testing.T) {
	r := NewSessions()
	r.Remove("ghost", &transport.Session{})
	assert.False(t, r.Has("ghost"))
}

func TestNewRequiresID(t *testing.T) {
	_, err := New("", Config{Log: zerolog.Nop()})
	require.Error(t, err)
}

func TestBuiltinHandlersRegistered(t *testing.T) {
	svc, err := New("svc-builtins", Config{Sessions: NewSessions(), Log: zerolog.Nop()})
	require.NoError(t, err)

	assert.NotNil(t, svc.Handlers().Get(message.OpStatus))
	assert.NotNil(t, svc.Handlers().Get(message.OpCloseAllSessions))
	assert.NotNil(t, svc.Handlers().Get(message.OpDependencyUpdated))
}

func TestStatusSnapshotIncludesExtension(t *testing.T) {
	svc, err := New("svc-status", Config{
		Sessions: NewSessions(),
		ExtraStatus: func(context.Context, json.RawMessage) (any, error) {
			return map[string]string{"state": "serving"}, nil
		},
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)

	snapshot := svc.StatusSnapshot(context.Background(), nil)
	require.NotNil(t, snapshot.Host)
	assert.Equal(t, map[string]string{"state": "serving"}, snapshot.Extra)
}

func TestStatusSnapshotSurvivesFailingExtension(t *testing.T) {
	svc, err := New("svc-status-err", Config{
		Sessions: NewSessions(),
		ExtraStatus: func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("extension broke")
		},
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)

	snapshot := svc.StatusSnapshot(context.Background(), nil)
	require.NotNil(t, snapshot.Host)
	details, ok := snapshot.Extra.(message.ErrorDetails)
	require.True(t, ok)
	assert.Contains(t, details.Error, "extension broke")
}

func TestStatusSnapshotSurvivesPanickingExtension(t *testing.T) {
	svc, err := New("svc-status-panic", Config{
		Sessions: NewSessions(),
		ExtraStatus: func(context.Context, json.RawMessage) (any, error) {
			panic("extension panicked")
		},
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)

	snapshot := svc.StatusSnapshot(context.Background(), nil)
	details, ok := snapshot.Extra.(message.ErrorDetails)
	require.True(t, ok)
	assert.Contains(t, details.Error, "extension panicked")
}

func TestStatusHandlerNeverReturnsError(t *testing.T) {
	svc, err := New("svc-status-handler", Config{
		Sessions: NewSessions(),
		ExtraStatus: func(context.Context, json.RawMessage) (any, error) {
			panic("still not an ERROR reply")
		},
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)

	body, err := svc.Handlers().Get(message.OpStatus)(context.Background(), nil)
	require.NoError(t, err)

	var decoded struct {
		Host  map[string]any       `json:"host"`
		Extra message.ErrorDetails `json:"extra"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.NotEmpty(t, decoded.Host)
	assert.Contains(t, decoded.Extra.Error, "still not an ERROR reply")
}
