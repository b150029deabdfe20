package tests

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/beacon"
	"github.com/EternisAI/silo-beacon/internal/controllertest"
	"github.com/EternisAI/silo-beacon/internal/executor"
	"github.com/EternisAI/silo-beacon/internal/packer"
	"github.com/EternisAI/silo-beacon/internal/state"
	"github.com/EternisAI/silo-beacon/internal/sysinfo"
	"github.com/EternisAI/silo-beacon/internal/task"
	"github.com/EternisAI/silo-beacon/internal/transport"
)

var encryptKey = bytes.Repeat([]byte{0x5a}, agent.SessionKeySize)

type agentUnderTest struct {
	beacon    *beacon.Beacon
	transport beacon.Transport
	servers   *transport.ServerSet
	store     state.Store
}

func startAgent(t *testing.T, protocol agent.Protocol, servers ...agent.ServerAddr) *agentUnderTest {
	t.Helper()

	cfg := agent.DefaultConfig()
	cfg.Protocol = protocol
	cfg.Servers = servers
	cfg.Sleep = 10 * time.Millisecond
	cfg.SetJitter(20)
	cfg.EncryptKey = encryptKey
	require.NoError(t, cfg.Validate())

	session, err := agent.NewSession(0x1234, 0, 0)
	require.NoError(t, err)

	info, err := sysinfo.Static{Info: sysinfo.Info{ComputerName: "lab-01", Username: "svc", ProcessName: "silo-beacon"}}.Collect(context.Background())
	require.NoError(t, err)

	beat := packer.BuildBeat(info, session, cfg, packer.RC4{})
	require.NotEmpty(t, beat)

	store := state.NewMemoryStore()
	set := transport.NewServerSet(cfg.Servers, nil, store, string(protocol))
	opts := transport.Options{
		Config:  cfg,
		Session: session,
		Beat:    beat,
		Cipher:  packer.RC4{},
		Servers: set,
	}

	var tr beacon.Transport
	if protocol == agent.ProtocolWebSocket {
		tr = transport.NewWebSocket(opts)
	} else {
		tr = transport.NewHTTP(opts)
	}

	b := beacon.New(cfg, session, tr, executor.NewDispatcher("", nil))
	require.NoError(t, b.Start())

	a := &agentUnderTest{beacon: b, transport: tr, servers: set, store: store}
	t.Cleanup(func() {
		b.Stop()
		tr.Close()
	})
	return a
}

func waitForResults(t *testing.T, ctrl *controllertest.Controller, n int) []*task.Result {
	t.Helper()
	require.Eventually(t, func() bool { return len(ctrl.Results()) >= n }, 10*time.Second, 10*time.Millisecond)
	return ctrl.Results()
}

func unreachable(t *testing.T) agent.ServerAddr {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv, err := agent.ParseServerAddr(addr)
	require.NoError(t, err)
	return srv
}

func TestHTTPCheckIn(t *testing.T) {
	ctrl := controllertest.New(t, controllertest.WithEmptyPolls(2))
	first := ctrl.EnqueueCommand("echo hi")
	second := ctrl.EnqueueCommand("echo there")

	startAgent(t, agent.ProtocolHTTP, ctrl.Addr())

	results := waitForResults(t, ctrl, 2)
	assert.Equal(t, first.ID, results[0].TaskID)
	assert.Contains(t, results[0].Output, "hi")
	assert.Equal(t, second.ID, results[1].TaskID)
	assert.Equal(t, task.StatusCompleted, results[1].Status)
}

func TestWebSocketCheckIn(t *testing.T) {
	ctrl := controllertest.New(t, controllertest.WithEncryptKey(encryptKey))
	queued := ctrl.EnqueueCommand("echo hi")
	ctrl.Enqueue(task.New("sleep-1", task.KindSleep, "30"))

	startAgent(t, agent.ProtocolWebSocket, ctrl.Addr())

	results := waitForResults(t, ctrl, 2)
	assert.Equal(t, queued.ID, results[0].TaskID)
	assert.Contains(t, results[0].Output, "hi")
	assert.Equal(t, executor.SleepAcknowledged, results[1].Output)
	assert.Len(t, ctrl.Beats(), 1)
}

func TestWebSocketFailover(t *testing.T) {
	ctrl := controllertest.New(t, controllertest.WithEncryptKey(encryptKey))
	ctrl.EnqueueCommand("echo failover")

	a := startAgent(t, agent.ProtocolWebSocket, unreachable(t), unreachable(t), ctrl.Addr())

	results := waitForResults(t, ctrl, 1)
	assert.Contains(t, results[0].Output, "failover")
	assert.Equal(t, 2, a.servers.Index())

	idx, err := a.store.ServerIndex(string(agent.ProtocolWebSocket))
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestStopEndsTraffic(t *testing.T) {
	ctrl := controllertest.New(t)
	a := startAgent(t, agent.ProtocolHTTP, ctrl.Addr())

	require.Eventually(t, func() bool { return ctrl.Polls() >= 3 }, 10*time.Second, 5*time.Millisecond)
	a.beacon.Stop()
	assert.Equal(t, beacon.StateStopped, a.beacon.State())

	polls := ctrl.Polls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, polls, ctrl.Polls())
}
