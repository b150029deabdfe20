package transport_test

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/packer"
	"github.com/EternisAI/silo-beacon/internal/sysinfo"
	"github.com/EternisAI/silo-beacon/internal/transport"
)

var testEncryptKey = bytes.Repeat([]byte{0x11}, agent.SessionKeySize)

func testOptions(t *testing.T, protocol agent.Protocol, servers ...agent.ServerAddr) transport.Options {
	t.Helper()

	cfg := agent.DefaultConfig()
	cfg.Protocol = protocol
	cfg.Servers = servers
	cfg.EncryptKey = testEncryptKey

	session, err := agent.NewSession(0xCAFE, 0, 0)
	require.NoError(t, err)

	info := &sysinfo.Info{ComputerName: "workstation", Username: "tester", ProcessName: "beacon"}
	beat := packer.BuildBeat(info, session, cfg, packer.RC4{})
	require.NotEmpty(t, beat)

	return transport.Options{
		Config:  cfg,
		Session: session,
		Beat:    beat,
		Cipher:  packer.RC4{},
	}
}

// deadServer returns a local address nothing is listening on.
func deadServer(t *testing.T) agent.ServerAddr {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv, err := agent.ParseServerAddr(addr)
	require.NoError(t, err)
	return srv
}
