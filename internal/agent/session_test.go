package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionGeneratesKeyOnce(t *testing.T) {
	s, err := NewSession(7, 0, 0)
	require.NoError(t, err)

	key := s.Key()
	assert.Len(t, key, SessionKeySize)
	assert.NotEqual(t, make([]byte, SessionKeySize), key)
	assert.Equal(t, key, s.Key())

	// Key returns a copy.
	key[0] ^= 0xFF
	assert.NotEqual(t, key, s.Key())

	other, err := NewSession(7, 0, 0)
	require.NoError(t, err)
	assert.NotEqual(t, s.Key(), other.Key())
}

func TestIsActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		active   bool
		killDate uint32
		want     bool
	}{
		{"active without kill date", true, 0, true},
		{"inactive without kill date", false, 0, false},
		{"active before kill date", true, uint32(now.Add(time.Hour).Unix()), true},
		{"active at kill date", true, uint32(now.Unix()), false},
		{"active after kill date", true, uint32(now.Add(-time.Hour).Unix()), false},
		{"inactive before kill date", false, uint32(now.Add(time.Hour).Unix()), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSession(1, tt.killDate, 0)
			require.NoError(t, err)
			s.now = func() time.Time { return now }
			s.SetActive(tt.active)

			assert.Equal(t, tt.want, s.IsActive())
		})
	}
}

func TestRandomAgentID(t *testing.T) {
	id, err := RandomAgentID()
	require.NoError(t, err)
	assert.NotZero(t, id)
}
