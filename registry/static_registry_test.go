package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRegisterDiscoverDeregister(t *testing.T) {
	r := NewStaticRegistry()
	require.NoError(t, r.Register("echo", Instance{URL: "ws://a:1/ws", Weight: 1}, 10))
	require.NoError(t, r.Register("echo", Instance{URL: "ws://b:1/ws", Weight: 2}, 10))

	instances, err := r.Discover("echo")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	// Re-registering the same URL replaces, not duplicates.
	require.NoError(t, r.Register("echo", Instance{URL: "ws://a:1/ws", Weight: 5}, 10))
	instances, err = r.Discover("echo")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, r.Deregister("echo", "ws://a:1/ws"))
	require.NoError(t, r.Deregister("echo", "ws://b:1/ws"))
	_, err = r.Discover("echo")
	require.Error(t, err)
}

func TestStaticDiscoverUnknownService(t *testing.T) {
	r := NewStaticRegistry()
	_, err := r.Discover("ghost")
	require.Error(t, err)
}

func TestStaticWatchSeesChanges(t *testing.T) {
	r := NewStaticRegistry()
	watch := r.Watch("echo")

	require.NoError(t, r.Register("echo", Instance{URL: "ws://a:1/ws"}, 10))

	select {
	case instances := <-watch:
		require.Len(t, instances, 1)
		assert.Equal(t, "ws://a:1/ws", instances[0].URL)
	case <-time.After(time.Second):
		t.Fatal("watch did not observe the registration")
	}
}
