package state

import (
	"errors"
	"sync"
)

var ErrInvalidIndex = errors.New("server index must not be negative")

// Store persists agent state that must survive reconnects and, with a
// durable backend, restarts.
type Store interface {
	AgentID() (uint32, bool, error)
	SetAgentID(id uint32) error
	ServerIndex(name string) (int, error)
	SetServerIndex(name string, index int) error
	Close() error
}

type MemoryStore struct {
	mu      sync.RWMutex
	agentID uint32
	hasID   bool
	indexes map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		indexes: make(map[string]int),
	}
}

func (s *MemoryStore) AgentID() (uint32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID, s.hasID, nil
}

func (s *MemoryStore) SetAgentID(id uint32) error {
	s.mu.Lock()
	s.agentID = id
	s.hasID = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ServerIndex(name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[name], nil
}

func (s *MemoryStore) SetServerIndex(name string, index int) error {
	if index < 0 {
		return ErrInvalidIndex
	}
	s.mu.Lock()
	s.indexes[name] = index
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
