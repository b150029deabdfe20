package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/beacon"
	"github.com/EternisAI/silo-beacon/internal/executor"
	"github.com/EternisAI/silo-beacon/internal/packer"
	"github.com/EternisAI/silo-beacon/internal/state"
	"github.com/EternisAI/silo-beacon/internal/sysinfo"
	"github.com/EternisAI/silo-beacon/internal/transport"
)

var ErrEmptyBeat = errors.New("failed to build identity beat")

// app owns every long-lived component of one agent process.
type app struct {
	cfg       *agent.Config
	session   *agent.Session
	store     state.Store
	beat      []byte
	profile   *transport.Profile
	transport beacon.Transport
	beacon    *beacon.Beacon
}

func openStore(path string) (state.Store, error) {
	if path == "" {
		return state.NewMemoryStore(), nil
	}
	return state.NewBoltStore(path)
}

// loadAgentID returns the persisted agent id, generating and saving one on
// first run.
func loadAgentID(store state.Store) (uint32, error) {
	id, ok, err := store.AgentID()
	if err != nil {
		return 0, fmt.Errorf("failed to load agent id: %w", err)
	}
	if ok {
		return id, nil
	}

	id, err = agent.RandomAgentID()
	if err != nil {
		return 0, err
	}
	if err := store.SetAgentID(id); err != nil {
		return 0, fmt.Errorf("failed to persist agent id: %w", err)
	}
	slog.Info("Generated new agent id", "agent_id", id)
	return id, nil
}

// newApp builds the identity and wires the transport, dispatcher and
// scheduler. info supplies the host identity; nil collects it from the host.
func newApp(ctx context.Context, c Config, info sysinfo.Provider) (*app, error) {
	cfg, killDate, workingTime, err := c.Beacon.agentConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := openStore(c.State.Path)
	if err != nil {
		return nil, err
	}

	a, err := wire(ctx, c, cfg, store, killDate, workingTime, info)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, c Config, cfg *agent.Config, store state.Store, killDate, workingTime uint32, info sysinfo.Provider) (*app, error) {
	id, err := loadAgentID(store)
	if err != nil {
		return nil, err
	}

	session, err := agent.NewSession(id, killDate, workingTime)
	if err != nil {
		return nil, err
	}

	if info == nil {
		info = sysinfo.NewHost()
	}
	identity, err := info.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect system info: %w", err)
	}

	cipher, err := packer.NewCipher(cfg.Cipher)
	if err != nil {
		return nil, err
	}

	beat := packer.BuildBeat(identity, session, cfg, cipher)
	if len(beat) == 0 {
		return nil, ErrEmptyBeat
	}

	profile, err := transport.ParseProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}

	opts := transport.Options{
		Config:  cfg,
		Session: session,
		Beat:    beat,
		Cipher:  cipher,
		Profile: profile,
	}

	if c.Beacon.TLS.Enabled {
		opts.TLS, err = transport.LoadClientTLSConfig(transport.TLSOptions{
			CertFile:           c.Beacon.TLS.CertFile,
			KeyFile:            c.Beacon.TLS.KeyFile,
			CAFile:             c.Beacon.TLS.CAFile,
			ServerNameOverride: c.Beacon.TLS.ServerNameOverride,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		slog.Info("Using TLS connection")
	}

	var resolver transport.Resolver
	if c.DoH.Enabled {
		resolver = transport.NewDoHResolver(c.DoH.URL, c.DoH.Timeout)
		slog.Info("Resolving server names over DoH", "url", c.DoH.URL)
	}
	opts.Servers = transport.NewServerSet(cfg.Servers, resolver, store, string(cfg.Protocol))

	var tr beacon.Transport
	switch cfg.Protocol {
	case agent.ProtocolWebSocket:
		tr = transport.NewWebSocket(opts)
	default:
		tr = transport.NewHTTP(opts)
	}

	dispatcher := executor.NewDispatcher(c.Executor.Interpreter, nil)

	return &app{
		cfg:       cfg,
		session:   session,
		store:     store,
		beat:      beat,
		profile:   profile,
		transport: tr,
		beacon:    beacon.New(cfg, session, tr, dispatcher),
	}, nil
}

func (a *app) Close() {
	if err := a.transport.Close(); err != nil {
		slog.Error("Failed to close transport", "error", err)
	}
	if err := a.store.Close(); err != nil {
		slog.Error("Failed to close state store", "error", err)
	}
}
