// Package controllertest runs an in-process controller that speaks both the
// HTTP and the WebSocket check-in protocols. It is meant for tests.
package controllertest

import (
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/packer"
	"github.com/EternisAI/silo-beacon/internal/task"
	"github.com/EternisAI/silo-beacon/internal/transport"
)

type Controller struct {
	profile    *transport.Profile
	encryptKey []byte
	cipher     packer.Cipher
	emptyPolls int
	reject     bool
	tlsDir     string
	certs      Certificates

	mu      sync.Mutex
	queue   []*task.Task
	results []*task.Result
	beats   [][]byte
	polls   int
	conns   map[*websocket.Conn]struct{}

	server *httptest.Server
}

type Option func(*Controller)

// WithEncryptKey lets the controller decrypt beats, which the WebSocket
// endpoint needs to learn the session key.
func WithEncryptKey(key []byte) Option {
	return func(c *Controller) { c.encryptKey = key }
}

func WithCipher(cipher packer.Cipher) Option {
	return func(c *Controller) { c.cipher = cipher }
}

func WithProfile(p *transport.Profile) Option {
	return func(c *Controller) { c.profile = p }
}

// WithEmptyPolls answers the first n polls with "no task" even when tasks
// are queued.
func WithEmptyPolls(n int) Option {
	return func(c *Controller) { c.emptyPolls = n }
}

// WithMutualTLS serves over TLS and requires a client certificate. The
// client-side files are written to dir and returned by Certificates.
func WithMutualTLS(dir string) Option {
	return func(c *Controller) { c.tlsDir = dir }
}

// WithRejectUpgrade makes the WebSocket endpoint refuse every upgrade.
func WithRejectUpgrade() Option {
	return func(c *Controller) { c.reject = true }
}

func New(tb testing.TB, opts ...Option) *Controller {
	tb.Helper()
	gin.SetMode(gin.TestMode)

	c := &Controller{
		profile: transport.DefaultProfile(),
		cipher:  packer.RC4{},
		conns:   make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	engine := gin.New()
	c.setupRoutes(engine)

	if c.tlsDir == "" {
		c.server = httptest.NewServer(engine)
	} else {
		tlsConfig, certs, err := mutualTLS(c.tlsDir)
		if err != nil {
			tb.Fatalf("controllertest: %v", err)
		}
		c.certs = certs
		c.server = httptest.NewUnstartedServer(engine)
		c.server.TLS = tlsConfig
		c.server.StartTLS()
	}
	tb.Cleanup(c.Close)
	return c
}

func (c *Controller) Certificates() Certificates {
	return c.certs
}

// Close stops the server and drops every open WebSocket session.
func (c *Controller) Close() {
	c.mu.Lock()
	for conn := range c.conns {
		conn.Close()
	}
	c.mu.Unlock()

	c.server.CloseClientConnections()
	c.server.Close()
}

func (c *Controller) URL() string {
	return c.server.URL
}

// Addr is the controller's listen address in agent config form.
func (c *Controller) Addr() agent.ServerAddr {
	addr := c.server.Listener.Addr().String()
	srv, err := agent.ParseServerAddr(addr)
	if err != nil {
		panic("controllertest: unparsable listener address " + strconv.Quote(addr))
	}
	return srv
}

func (c *Controller) Enqueue(tasks ...*task.Task) {
	c.mu.Lock()
	c.queue = append(c.queue, tasks...)
	c.mu.Unlock()
}

// EnqueueCommand queues a shell command under a fresh id and returns it.
func (c *Controller) EnqueueCommand(command string) *task.Task {
	t := task.New(uuid.New().String(), task.KindCommand, command)
	c.Enqueue(t)
	return t
}

func (c *Controller) Results() []*task.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*task.Result(nil), c.results...)
}

// Beats returns every identity beat received, in arrival order, without any
// listener-type prefix.
func (c *Controller) Beats() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.beats...)
}

func (c *Controller) Polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

// next records a poll and hands out the next queued task, if any.
func (c *Controller) next() *task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.polls++
	if c.polls <= c.emptyPolls || len(c.queue) == 0 {
		return nil
	}
	t := c.queue[0]
	c.queue = c.queue[1:]
	return t
}

func (c *Controller) recordResult(r *task.Result) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *Controller) recordBeat(beat []byte) {
	c.mu.Lock()
	c.beats = append(c.beats, beat)
	c.mu.Unlock()
}

func (c *Controller) track(conn *websocket.Conn) {
	c.mu.Lock()
	c.conns[conn] = struct{}{}
	c.mu.Unlock()
}

func (c *Controller) untrack(conn *websocket.Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	conn.Close()
}
