package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stsolovey/pipemonitor/internal/client"
	"github.com/stsolovey/pipemonitor/internal/monitor"
	"github.com/stsolovey/pipemonitor/internal/pipe"
	"github.com/stsolovey/pipemonitor/internal/transport"
)

func startMonitor(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	address := "memory://" + t.Name()

	provider, err := transport.Connect(ctx, address, transport.Options{Role: transport.RoleSubscriber})
	require.NoError(t, err)

	mon := monitor.New(provider, monitor.WithWorkers(2))
	require.NoError(t, mon.Start(ctx))

	srv := httptest.NewServer(NewApp(mon, provider, zap.NewNop()).Routes())

	t.Cleanup(func() {
		srv.Close()
		cancel()
		mon.Wait()
		_ = provider.Close()
	})

	return srv, address
}

func TestApp_PipesEndpoint(t *testing.T) {
	srv, address := startMonitor(t)
	ctx := context.Background()

	p, err := pipe.New[int](ctx, 3, address, "orders")
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 4; i++ {
		p.PushBack(i)
	}

	c := client.NewMonitorClient(srv.URL)
	require.NoError(t, c.Health(ctx))

	require.Eventually(t, func() bool {
		state, err := c.Pipe(ctx, "orders")

		return err == nil && state.Reports == 4
	}, 2*time.Second, 10*time.Millisecond)

	pipes, err := c.Pipes(ctx)
	require.NoError(t, err)
	require.Len(t, pipes, 1)
	assert.Equal(t, uint64(3), pipes[0].Size)
	assert.Equal(t, uint64(3), pipes[0].MaxCapacity)

	_, err = c.Pipe(ctx, "missing")
	require.ErrorIs(t, err, client.ErrPipeNotFound)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_Metrics(t *testing.T) {
	srv, _ := startMonitor(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApp_Websocket(t *testing.T) {
	srv, address := startMonitor(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var ev wsEvent

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, &ev))
	assert.Equal(t, "snapshot", ev.Type)

	p, err := pipe.New[string](context.Background(), 2, address, "ws")
	require.NoError(t, err)
	defer p.Close()

	p.PushBack("a")

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, &ev))

	assert.Equal(t, "update", ev.Type)
	require.NotNil(t, ev.Pipe)
	assert.Equal(t, "ws", ev.Pipe.Name)
	assert.Equal(t, uint64(1), ev.Pipe.Size)
}
