package transport

import (
	"bytes"
	"encoding/binary"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/silo-beacon/internal/packer"
)

func frameTransport() *WebSocketTransport {
	return &WebSocketTransport{
		cipher: packer.RC4{},
		key:    bytes.Repeat([]byte{0x42}, 16),
	}
}

func TestFrameRoundTrip(t *testing.T) {
	tr := frameTransport()

	frame, err := tr.encodeFrame([]byte(`{"task_id":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, uint32(len(frame)-4), binary.LittleEndian.Uint32(frame))

	plain, err := tr.decodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, `{"task_id":"1"}`, string(plain))
}

func TestEmptyFrameIsHeartbeat(t *testing.T) {
	tr := frameTransport()

	frame, err := tr.encodeFrame(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, frame)

	plain, err := tr.decodeFrame(frame)
	require.NoError(t, err)
	assert.Nil(t, plain)
}

func TestDecodeFrameProtocolErrors(t *testing.T) {
	tr := frameTransport()

	_, err := tr.decodeFrame([]byte{1, 0})
	assert.ErrorIs(t, err, ErrShortMessage)

	_, err = tr.decodeFrame([]byte{9, 0, 0, 0, 1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestReassembleConcatenatesPartialReads(t *testing.T) {
	msg := bytes.Repeat([]byte("fragment-"), 1000)

	out, err := reassemble(iotest.OneByteReader(bytes.NewReader(msg)))
	require.NoError(t, err)
	assert.Equal(t, msg, out)

	out, err = reassemble(iotest.DataErrReader(bytes.NewReader(msg)))
	require.NoError(t, err)
	assert.Equal(t, msg, out)
}

func TestReassemblePropagatesErrors(t *testing.T) {
	_, err := reassemble(iotest.TimeoutReader(bytes.NewReader(bytes.Repeat([]byte("x"), 10000))))
	assert.ErrorIs(t, err, iotest.ErrTimeout)
}
