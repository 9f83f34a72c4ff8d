// Package test wires the full stack together: server host → websocket
// session → endpoint engine → handler table on one side, client → pending
// registry on the other.
package test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ws-rpc/client"
	"ws-rpc/codec"
	"ws-rpc/handler"
	"ws-rpc/loadbalance"
	"ws-rpc/message"
	"ws-rpc/proxy"
	"ws-rpc/registry"
	"ws-rpc/server"
	"ws-rpc/service"
	"ws-rpc/status"
)

// ---- shared message types ----

var (
	echoType  = codec.NewMessageTypeWith[json.RawMessage, json.RawMessage]("ECHO", codec.Raw(), codec.Raw())
	greetType = codec.NewMessageType[string, string]("GREET")
	sleepType = codec.NewMessageType[int, string]("SLEEP")
	noteType  = codec.NewMessageType[string, codec.None]("NOTE")
)

// ---- typed clients, the way service implementations wrap the framework ----

type echoClient struct{ *client.Client }

func (c *echoClient) Echo(ctx context.Context, body json.RawMessage) (*client.Response[json.RawMessage], error) {
	return client.Request(ctx, c.Client, echoType, body, 5*time.Second)
}

func (c *echoClient) Greet(ctx context.Context, name string) (*client.Response[string], error) {
	return client.Request(ctx, c.Client, greetType, name, 5*time.Second)
}

// ---- hosts ----

func startBackend(t *testing.T) *server.Server {
	t.Helper()

	handlers := handler.NewManager()
	handler.Register(handlers, echoType, func(_ context.Context, req json.RawMessage) (json.RawMessage, error) {
		return req, nil
	})
	handler.Register(handlers, greetType, func(_ context.Context, name string) (string, error) {
		return "Hello, " + name + "!", nil
	})
	handler.Register(handlers, sleepType, func(_ context.Context, millis int) (string, error) {
		time.Sleep(time.Duration(millis) * time.Millisecond)
		return "done", nil
	})

	svc, err := service.New("backend", service.Config{
		Handlers: handlers,
		Sessions: service.NewSessions(),
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := server.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Host(svc, "/ws", "/health"))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func connect(t *testing.T, srv *server.Server) *echoClient {
	t.Helper()
	c, err := client.ConnectAs(context.Background(), srv.WebSocketURL("/ws"), client.ConnectOptions{
		Options: client.Options{Log: zerolog.Nop()},
	}, func(c *client.Client) *echoClient { return &echoClient{c} })
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// ---- seed scenarios ----

func TestEcho(t *testing.T) {
	c := connect(t, startBackend(t))

	resp, err := c.Echo(context.Background(), json.RawMessage(`"test"`))
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	value, err := resp.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `"test"`, string(value))
	assert.True(t, resp.IsSuccessful())
}

func TestGreet(t *testing.T) {
	c := connect(t, startBackend(t))

	resp, err := c.Greet(context.Background(), "World")
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	value, err := resp.Value()
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", value)
	assert.GreaterOrEqual(t, resp.RoundtripMillis(), int64(0))
	assert.GreaterOrEqual(t, resp.ProcessingMillis(), int64(0))
}

func TestFrontendResolvesBackendThroughProxy(t *testing.T) {
	backend := startBackend(t)

	// The frontend's GREET handler resolves its "backend" proxy, calls
	// the backend, and relays the reply.
	proxies := proxy.NewManager()
	reg := registry.NewStaticRegistry()
	require.NoError(t, reg.Register("backend", registry.Instance{URL: backend.WebSocketURL("/ws"), Weight: 1}, 10))
	backendProxy, err := proxy.FromRegistry("backend", "echoClient", reg, "backend",
		&loadbalance.RoundRobin{}, client.ConnectOptions{Options: client.Options{Log: zerolog.Nop()}}, zerolog.Nop())
	require.NoError(t, err)
	proxies.Set(backendProxy)

	handlers := handler.NewManager()
	handler.Register(handlers, greetType, func(ctx context.Context, name string) (string, error) {
		p, err := proxies.Get("backend", "echoClient")
		if err != nil {
			return "", err
		}
		backendClient, err := p.Get(ctx)
		if err != nil {
			return "", err
		}
		resp, err := client.Request(ctx, backendClient, greetType, name, 5*time.Second)
		if err != nil {
			return "", err
		}
		if err := resp.Err(); err != nil {
			return "", err
		}
		return resp.Value()
	})

	frontendSvc, err := service.New("frontend", service.Config{
		Handlers: handlers,
		Proxies:  proxies,
		Sessions: service.NewSessions(),
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)

	frontend := server.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, frontend.Host(frontendSvc, "/ws", ""))
	require.NoError(t, frontend.Start())
	t.Cleanup(func() { _ = frontend.Shutdown(context.Background()) })

	c := connect(t, frontend)
	resp, err := c.Greet(context.Background(), "World")
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	value, err := resp.Value()
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", value)
}

func TestStatusWithFailingExtension(t *testing.T) {
	handlers := handler.NewManager()
	svc, err := service.New("moody", service.Config{
		Handlers: handlers,
		Sessions: service.NewSessions(),
		ExtraStatus: func(context.Context, json.RawMessage) (any, error) {
			panic("extension broke")
		},
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := server.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Host(svc, "/ws", "/health"))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	c := connect(t, srv)
	resp, err := client.Request(context.Background(), c.Client, codec.Status, nil, 5*time.Second)
	require.NoError(t, err)

	// A broken extension must not fail the STATUS call.
	require.NoError(t, resp.Err())
	st, err := resp.Value()
	require.NoError(t, err)
	require.NotNil(t, st.Host)
	assert.NotEmpty(t, st.Host.OSName)

	extra, err := json.Marshal(st.Extra)
	require.NoError(t, err)
	var details message.ErrorDetails
	require.NoError(t, json.Unmarshal(extra, &details))
	assert.Contains(t, details.Error, "extension broke")
}

func TestHealthRouteServesStatus(t *testing.T) {
	srv := startBackend(t)

	httpResp, err := http.Get(srv.HealthURL("/health"))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)

	var st status.ServiceStatus
	require.NoError(t, json.Unmarshal(body, &st))
	require.NotNil(t, st.Host)
	assert.Positive(t, st.Host.CPUCores)
}

func TestTimeout(t *testing.T) {
	c := connect(t, startBackend(t))

	// The handler sleeps for twice the timeout.
	resp, err := client.Request(context.Background(), c.Client, sleepType, 100, 50*time.Millisecond)
	require.NoError(t, err)

	assert.False(t, resp.IsSuccessful())
	details, err := resp.ErrorDetails()
	require.NoError(t, err)
	assert.Contains(t, details.Error, "timed out")
}

func TestZeroTimeoutWaitsForSlowHandler(t *testing.T) {
	c := connect(t, startBackend(t))

	resp, err := client.Request(context.Background(), c.Client, sleepType, 100, 0)
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	value, err := resp.Value()
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}

func TestClosePurgeCompletesOutstandingCalls(t *testing.T) {
	srv := startBackend(t)
	c := connect(t, srv)

	// Three outstanding slow calls, then the transport closes underneath
	// them.
	results := make([]<-chan client.Result[string], 0, 3)
	for i := 0; i < 3; i++ {
		results = append(results, client.RequestAsync(context.Background(), c.Client, sleepType, 2000, 0))
	}
	time.Sleep(100 * time.Millisecond) // let the requests reach the wire

	require.NoError(t, c.Close())

	for _, ch := range results {
		select {
		case result := <-ch:
			require.NoError(t, result.Err)
			require.NotNil(t, result.Response)
			assert.False(t, result.Response.IsSuccessful())
			details, err := result.Response.ErrorDetails()
			require.NoError(t, err)
			assert.Contains(t, details.Error, "session closed")
		case <-time.After(2 * time.Second):
			t.Fatal("outstanding call did not complete after session close")
		}
	}
}

func TestUnknownOpYieldsErrorReply(t *testing.T) {
	c := connect(t, startBackend(t))

	reply, err := c.RequestRaw(context.Background(), "NO_SUCH_OP", nil, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, reply.IsError())

	var details message.ErrorDetails
	require.NoError(t, json.Unmarshal(reply.Body, &details))
	assert.Contains(t, details.Error, "Unknown message type 'NO_SUCH_OP'")
}

func TestLargeMessageRoundTrip(t *testing.T) {
	c := connect(t, startBackend(t))

	// Well past the text limit, so both legs take the binary-stream path.
	big := `"` + strings.Repeat("x", 80_000) + `"`
	resp, err := c.Echo(context.Background(), json.RawMessage(big))
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	value, err := resp.Value()
	require.NoError(t, err)
	assert.Equal(t, big, string(value))
}

func TestFireAndForget(t *testing.T) {
	var mu sync.Mutex
	var notes []string

	handlers := handler.NewManager()
	handlers.Set(noteType.Name(), handler.Consumer(noteType, func(_ context.Context, note string) error {
		mu.Lock()
		notes = append(notes, note)
		mu.Unlock()
		return nil
	}))

	svc, err := service.New("notes", service.Config{
		Handlers: handlers,
		Sessions: service.NewSessions(),
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := server.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Host(svc, "/ws", ""))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	c := connect(t, srv)
	require.NoError(t, client.Send(context.Background(), c.Client, noteType, "remember me"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notes) == 1 && notes[0] == "remember me"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAsyncRequest(t *testing.T) {
	c := connect(t, startBackend(t))

	ch := client.RequestAsync(context.Background(), c.Client, greetType, "Async", 5*time.Second)
	select {
	case result := <-ch:
		require.NoError(t, result.Err)
		require.NoError(t, result.Response.Err())
		value, err := result.Response.Value()
		require.NoError(t, err)
		assert.Equal(t, "Hello, Async!", value)
	case <-time.After(2 * time.Second):
		t.Fatal("async request did not resolve")
	}
}

func TestBroadcastReachesEverySession(t *testing.T) {
	handlers := handler.NewManager()
	sessions := service.NewSessions()
	svc, err := service.New("broadcaster", service.Config{
		Handlers: handlers,
		Sessions: sessions,
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := server.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Host(svc, "/ws", ""))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	var mu sync.Mutex
	received := 0
	newClient := func() {
		opts := client.Options{Handlers: handler.NewManager(), Log: zerolog.Nop()}
		opts.Handlers.Set("PROMO", func(context.Context, json.RawMessage) (json.RawMessage, error) {
			mu.Lock()
			received++
			mu.Unlock()
			return nil, nil
		})
		c, err := client.Connect(context.Background(), srv.WebSocketURL("/ws"), client.ConnectOptions{Options: opts})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
	}
	newClient()
	newClient()
	newClient()

	require.Eventually(t, func() bool { return sessions.Count("broadcaster") == 3 }, 2*time.Second, 10*time.Millisecond)

	msg, err := message.New(false, "PROMO", json.RawMessage(`{"sale":true}`))
	require.NoError(t, err)
	futures := svc.Broadcast(context.Background(), msg)
	require.Len(t, futures, 3)
	for id, done := range futures {
		select {
		case err := <-done:
			require.NoError(t, err, "session %s", id)
		case <-time.After(2 * time.Second):
			t.Fatalf("broadcast to session %s did not complete", id)
		}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDependencyUpdatedInvalidatesProxy(t *testing.T) {
	backend := startBackend(t)

	proxies := proxy.NewManager()
	backendProxy, err := proxy.FromAddress("backend", "echoClient", backend.WebSocketURL("/ws"),
		client.ConnectOptions{Options: client.Options{Log: zerolog.Nop()}}, zerolog.Nop())
	require.NoError(t, err)
	proxies.Set(backendProxy)

	svc, err := service.New("frontend-dep", service.Config{
		Handlers: handler.NewManager(),
		Proxies:  proxies,
		Sessions: service.NewSessions(),
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := server.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Host(svc, "/ws", ""))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	// Warm the proxy cache.
	cached, err := backendProxy.Get(context.Background())
	require.NoError(t, err)
	require.True(t, cached.IsOpen())

	// The built-in handler drops the cached client when told the
	// dependency moved.
	c := connect(t, srv)
	require.NoError(t, client.Send(context.Background(), c.Client, codec.DependencyUpdated, "backend"))

	require.Eventually(t, func() bool { return !cached.IsOpen() }, 2*time.Second, 10*time.Millisecond)

	// The next access reconnects.
	fresh, err := backendProxy.Get(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, cached, fresh)
	assert.True(t, fresh.IsOpen())
}

func TestCloseAllSessionsOp(t *testing.T) {
	sessions := service.NewSessions()
	svc, err := service.New("closer", service.Config{
		Handlers: handler.NewManager(),
		Sessions: sessions,
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)

	srv := server.New("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, srv.Host(svc, "/ws", ""))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	c, err := client.Connect(context.Background(), srv.WebSocketURL("/ws"), client.ConnectOptions{
		Options: client.Options{Log: zerolog.Nop()},
	})
	require.NoError(t, err)

	// The handler closes every session before the reply can be sent, so
	// the call resolves with a "session closed" error rather than a
	// RESPONSE - same contract as purging on transport loss.
	resp, err := client.Request(context.Background(), c, codec.CloseAllSessions, codec.None{}, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, resp.IsSuccessful())

	// The service side dropped the session; the client notices shortly.
	require.Eventually(t, func() bool { return !c.IsOpen() && sessions.Count("closer") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, sessions.Count("closer"))
	assert.False(t, sessions.Has("closer"))
}
