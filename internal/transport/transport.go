package transport

import (
	"crypto/tls"
	"log/slog"
	"sync"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/packer"
)

// Options carries what both transports share. Beat is the encrypted identity
// frame without any listener-type prefix.
type Options struct {
	Config  *agent.Config
	Session *agent.Session
	Beat    []byte
	Cipher  packer.Cipher
	Profile *Profile
	Servers *ServerSet
	TLS     *tls.Config
}

func (o *Options) profile() *Profile {
	if o.Profile == nil {
		return DefaultProfile()
	}
	return o.Profile
}

func (o *Options) servers() *ServerSet {
	if o.Servers == nil {
		return NewServerSet(o.Config.Servers, nil, nil, string(o.Config.Protocol))
	}
	return o.Servers
}

func (o *Options) scheme(plain, secure string) string {
	if o.Config.UseTLS || o.TLS != nil {
		return secure
	}
	return plain
}

// retryBudget counts consecutive failed exchanges. Once max is reached the
// transport stays quiet until ResetRetries or a successful exchange.
type retryBudget struct {
	mu    sync.Mutex
	count int
	max   int
}

func (r *retryBudget) exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max > 0 && r.count >= r.max
}

func (r *retryBudget) fail() {
	r.mu.Lock()
	r.count++
	count := r.count
	r.mu.Unlock()

	if r.max > 0 && count == r.max {
		slog.Warn("Retry budget exhausted", "failures", count)
	}
}

func (r *retryBudget) succeed() {
	r.mu.Lock()
	r.count = 0
	r.mu.Unlock()
}

func (r *retryBudget) Retries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *retryBudget) Exhausted() bool {
	return r.exhausted()
}

func (r *retryBudget) ResetRetries() {
	r.succeed()
}
