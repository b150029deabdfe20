package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/state"
)

// ServerSet rotates over the configured controllers. The index is always in
// [0, Count()) and only moves forward, modulo Count(), on failure.
type ServerSet struct {
	servers  []agent.ServerAddr
	index    int
	resolved map[string]string
	resolver Resolver
	store    state.Store
	name     string
	mu       sync.Mutex
}

// NewServerSet starts from the index persisted under name in store, if any. A
// nil resolver leaves domain names to the system resolver.
func NewServerSet(servers []agent.ServerAddr, resolver Resolver, store state.Store, name string) *ServerSet {
	s := &ServerSet{
		servers:  append([]agent.ServerAddr(nil), servers...),
		resolved: make(map[string]string),
		resolver: resolver,
		store:    store,
		name:     name,
	}

	if store != nil && len(s.servers) > 0 {
		idx, err := store.ServerIndex(name)
		if err != nil {
			slog.Warn("Failed to load persisted server index", "set", name, "error", err)
		} else {
			s.index = idx % len(s.servers)
		}
	}
	return s
}

func (s *ServerSet) Count() int {
	return len(s.servers)
}

func (s *ServerSet) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

func (s *ServerSet) Current() agent.ServerAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servers[s.index]
}

// Advance moves to the next server and forgets the failed server's resolved
// address so it is looked up again next time round.
func (s *ServerSet) Advance() {
	s.mu.Lock()
	delete(s.resolved, s.servers[s.index].Host)
	s.index = (s.index + 1) % len(s.servers)
	idx := s.index
	s.mu.Unlock()

	slog.Debug("Advanced to next server", "set", s.name, "index", idx)
	s.persist(idx)
}

func (s *ServerSet) persist(idx int) {
	if s.store == nil {
		return
	}
	if err := s.store.SetServerIndex(s.name, idx); err != nil {
		slog.Warn("Failed to persist server index", "set", s.name, "error", err)
	}
}

// Dial returns the "ip:port" to connect to for the current server, resolving
// and caching domain names through the resolver.
func (s *ServerSet) Dial(ctx context.Context) (string, error) {
	srv := s.Current()
	host, err := s.resolve(ctx, srv.Host)
	if err != nil {
		return "", err
	}
	return agent.ServerAddr{Host: host, Port: srv.Port}.String(), nil
}

// ResolveAddr rewrites a "host:port" dial address the same way Dial does. It
// lets net/http and websocket dialers go through the set's resolver.
func (s *ServerSet) ResolveAddr(ctx context.Context, addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	ip, err := s.resolve(ctx, host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(ip, port), nil
}

func (s *ServerSet) resolve(ctx context.Context, host string) (string, error) {
	if s.resolver == nil || IsNumericAddress(host) {
		return host, nil
	}

	s.mu.Lock()
	ip, ok := s.resolved[host]
	s.mu.Unlock()
	if ok {
		return ip, nil
	}

	ip, err := s.resolver.Resolve(ctx, host)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	s.mu.Lock()
	s.resolved[host] = ip
	s.mu.Unlock()

	slog.Debug("Resolved server address", "host", host, "ip", ip)
	return ip, nil
}

// IsNumericAddress reports whether host is written as a dotted IPv4 literal:
// exactly three dots and nothing but digits otherwise.
func IsNumericAddress(host string) bool {
	if host == "" {
		return false
	}
	dots := 0
	for _, c := range host {
		switch {
		case c == '.':
			dots++
		case c < '0' || c > '9':
			return false
		}
	}
	return dots == 3
}
