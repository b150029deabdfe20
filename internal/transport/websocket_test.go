package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/controllertest"
	"github.com/EternisAI/silo-beacon/internal/task"
	"github.com/EternisAI/silo-beacon/internal/transport"
)

func newWSController(t *testing.T, opts ...controllertest.Option) *controllertest.Controller {
	t.Helper()
	return controllertest.New(t, append([]controllertest.Option{controllertest.WithEncryptKey(testEncryptKey)}, opts...)...)
}

func TestWebSocketFailoverReachesLastServer(t *testing.T) {
	ctrl := newWSController(t)
	servers := []agent.ServerAddr{deadServer(t), deadServer(t), deadServer(t), ctrl.Addr()}

	opts := testOptions(t, agent.ProtocolWebSocket, servers...)
	opts.Servers = transport.NewServerSet(servers, nil, nil, "websocket")
	tr := transport.NewWebSocket(opts)
	defer tr.Close()

	attempts, err := tr.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(servers), attempts)
	assert.Equal(t, len(servers)-1, opts.Servers.Index())
}

func TestWebSocketResolutionFailureAdvances(t *testing.T) {
	ctrl := newWSController(t)
	servers := []agent.ServerAddr{{Host: "example.com", Port: 443}, ctrl.Addr()}

	failing := transport.ResolverFunc(func(ctx context.Context, host string) (string, error) {
		return "", errors.New("doh unavailable")
	})
	opts := testOptions(t, agent.ProtocolWebSocket, servers...)
	opts.Servers = transport.NewServerSet(servers, failing, nil, "websocket")
	tr := transport.NewWebSocket(opts)
	defer tr.Close()

	attempts, err := tr.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, opts.Servers.Index())
}

func TestWebSocketAllServersFail(t *testing.T) {
	rejecting := controllertest.New(t, controllertest.WithRejectUpgrade())
	servers := []agent.ServerAddr{deadServer(t), rejecting.Addr()}

	opts := testOptions(t, agent.ProtocolWebSocket, servers...)
	opts.Servers = transport.NewServerSet(servers, nil, nil, "websocket")
	tr := transport.NewWebSocket(opts)

	attempts, err := tr.Connect(context.Background())
	assert.ErrorIs(t, err, transport.ErrAllServersFailed)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 0, opts.Servers.Index())

	assert.Nil(t, tr.ReceiveTask(context.Background()))
	assert.Equal(t, transport.StateUnconnected, tr.State())
	assert.Equal(t, 1, tr.Retries())
}

func TestWebSocketCheckIn(t *testing.T) {
	profile, err := transport.ParseProfile([]byte("websocket:\n  listener_type: 7\n"))
	require.NoError(t, err)

	ctrl := newWSController(t, controllertest.WithProfile(profile), controllertest.WithEmptyPolls(1))
	queued := ctrl.EnqueueCommand("echo hi")

	opts := testOptions(t, agent.ProtocolWebSocket, ctrl.Addr())
	opts.Profile = profile
	tr := transport.NewWebSocket(opts)
	defer tr.Close()
	ctx := context.Background()

	assert.Nil(t, tr.ReceiveTask(ctx))
	assert.Equal(t, transport.StateConnected, tr.State())

	got := tr.ReceiveTask(ctx)
	require.NotNil(t, got)
	assert.Equal(t, queued.ID, got.ID)
	assert.Equal(t, "echo hi", got.Payload)

	assert.True(t, tr.SendResult(ctx, task.NewResult(got.ID, task.StatusCompleted, "hi\n")))

	require.Eventually(t, func() bool { return len(ctrl.Results()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hi\n", ctrl.Results()[0].Output)

	beats := ctrl.Beats()
	require.Len(t, beats, 1)
	assert.Equal(t, opts.Beat, beats[0])
	assert.Equal(t, 2, ctrl.Polls())
}

func TestWebSocketReassemblesLargeTask(t *testing.T) {
	ctrl := newWSController(t)
	payload := strings.Repeat("A", 64*1024)
	ctrl.Enqueue(task.New("big", task.KindScript, payload))

	tr := transport.NewWebSocket(testOptions(t, agent.ProtocolWebSocket, ctrl.Addr()))
	defer tr.Close()

	got := tr.ReceiveTask(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, payload, got.Payload)
}

func TestWebSocketShortMessageDropsConnection(t *testing.T) {
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.ReadMessage() // beat
		conn.ReadMessage() // poll
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		conn.ReadMessage()
	}))
	defer srv.Close()
	addr, err := agent.ParseServerAddr(srv.Listener.Addr().String())
	require.NoError(t, err)

	tr := transport.NewWebSocket(testOptions(t, agent.ProtocolWebSocket, addr))

	assert.Nil(t, tr.ReceiveTask(context.Background()))
	assert.Equal(t, transport.StateUnconnected, tr.State())
	assert.Equal(t, 1, tr.Retries())
}

func TestWebSocketReconnectsAfterServerRestart(t *testing.T) {
	ctrl := newWSController(t)
	tr := transport.NewWebSocket(testOptions(t, agent.ProtocolWebSocket, ctrl.Addr()))
	defer tr.Close()
	ctx := context.Background()

	assert.Nil(t, tr.ReceiveTask(ctx))
	require.Equal(t, transport.StateConnected, tr.State())

	ctrl.Close()
	assert.Nil(t, tr.ReceiveTask(ctx))
	assert.Equal(t, transport.StateUnconnected, tr.State())
}
