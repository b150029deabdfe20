package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/beacon"
	"github.com/EternisAI/silo-beacon/internal/state"
	"github.com/EternisAI/silo-beacon/internal/sysinfo"
	"github.com/EternisAI/silo-beacon/internal/transport"
)

const testKeyHex = "00112233445566778899aabbccddeeff"

func TestAgentConfig(t *testing.T) {
	c := BeaconConfig{
		Servers:     []string{"10.0.0.1:443", "c2.example.com:8443, 10.0.0.2:80"},
		Protocol:    "WebSocket",
		Sleep:       10 * time.Second,
		Jitter:      150,
		MaxRetries:  5,
		EncryptKey:  testKeyHex,
		KillDate:    "2030-01-02T03:04:05Z",
		WorkingTime: "09:00-17:30",
	}

	cfg, killDate, workingTime, err := c.agentConfig()
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 3)
	assert.Equal(t, agent.ServerAddr{Host: "c2.example.com", Port: 8443}, cfg.Servers[1])
	assert.Equal(t, agent.ProtocolWebSocket, cfg.Protocol)
	assert.Equal(t, 10*time.Second, cfg.Sleep)
	assert.Equal(t, 100, cfg.Jitter)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, agent.DefaultUserAgent, cfg.UserAgent)
	assert.Len(t, cfg.EncryptKey, agent.SessionKeySize)
	assert.Equal(t, uint32(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC).Unix()), killDate)
	assert.Equal(t, agent.PackWorkingTime(9, 0, 17, 30), workingTime)
	assert.NoError(t, cfg.Validate())
}

func TestAgentConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  BeaconConfig
	}{
		{"bad server", BeaconConfig{Servers: []string{"no-port"}}},
		{"bad key", BeaconConfig{EncryptKey: "zz"}},
		{"bad kill date", BeaconConfig{KillDate: "tomorrow"}},
		{"bad working time", BeaconConfig{WorkingTime: "9-5"}},
		{"missing profile", BeaconConfig{ProfileFile: "/nonexistent/profile.yml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := tt.cfg.agentConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}

func TestInitConfigFromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "application.yml")
	require.NoError(t, os.WriteFile(file, []byte(`
log:
  level: WARNING
beacon:
  servers:
    - 127.0.0.1:9000
  protocol: websocket
  sleep: 2s
  jitter: 10
  encrypt_key: `+testKeyHex+`
doh:
  enabled: true
`), 0600))

	require.NoError(t, InitConfig(file))

	assert.Equal(t, "WARNING", config.Log.Level)
	assert.Equal(t, []string{"127.0.0.1:9000"}, config.Beacon.Servers)
	assert.Equal(t, 2*time.Second, config.Beacon.Sleep)
	assert.Equal(t, agent.DefaultMaxRetries, config.Beacon.MaxRetries)
	assert.True(t, config.DoH.Enabled)
	assert.Equal(t, transport.DefaultDoHURL, config.DoH.URL)
	assert.Equal(t, transport.DefaultDoHTimeout, config.DoH.Timeout)
}

func TestInitConfigMissingFile(t *testing.T) {
	assert.Error(t, InitConfig(filepath.Join(t.TempDir(), "missing.yml")))
}

func testAppConfig(protocol string) Config {
	return Config{
		Beacon: BeaconConfig{
			Servers:    []string{"127.0.0.1:8080"},
			Protocol:   protocol,
			Sleep:      3 * time.Second,
			MaxRetries: 3,
			EncryptKey: testKeyHex,
		},
	}
}

var staticInfo = sysinfo.Static{Info: sysinfo.Info{ComputerName: "pc", Username: "user", ProcessName: "beacon"}}

func TestNewAppSelectsTransport(t *testing.T) {
	httpApp, err := newApp(context.Background(), testAppConfig("http"), staticInfo)
	require.NoError(t, err)
	defer httpApp.Close()
	assert.IsType(t, &transport.HTTPTransport{}, httpApp.transport)
	assert.NotEmpty(t, httpApp.beat)
	assert.Equal(t, beacon.StateStopped, httpApp.beacon.State())

	wsApp, err := newApp(context.Background(), testAppConfig("websocket"), staticInfo)
	require.NoError(t, err)
	defer wsApp.Close()
	assert.IsType(t, &transport.WebSocketTransport{}, wsApp.transport)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	c := testAppConfig("carrier-pigeon")
	_, err := newApp(context.Background(), c, staticInfo)
	assert.Error(t, err)
}

func TestAgentIDPersistsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := state.NewBoltStore(path)
	require.NoError(t, err)
	first, err := loadAgentID(store)
	require.NoError(t, err)
	assert.NotZero(t, first)
	require.NoError(t, store.Close())

	c := testAppConfig("http")
	c.State.Path = path
	a, err := newApp(context.Background(), c, staticInfo)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, first, a.session.AgentID())
}

func TestVersionCommand(t *testing.T) {
	AppVersion = "v1.2.3"
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "v1.2.3\n", out.String())
}
