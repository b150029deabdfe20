package transport

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTasksPath   = "/tasks"
	DefaultResultsPath = "/results"
	DefaultBeatHeader  = "X-Session"
	DefaultWSPath      = "/ws"
	DefaultReadTimeout = 30 * time.Second
)

// Profile tunes how the transports talk to the controller. It is carried
// opaquely in the agent config and decoded here.
type Profile struct {
	HTTP      HTTPProfile      `yaml:"http"`
	WebSocket WebSocketProfile `yaml:"websocket"`
}

type HTTPProfile struct {
	TasksPath   string            `yaml:"tasks_path"`
	ResultsPath string            `yaml:"results_path"`
	BeatHeader  string            `yaml:"beat_header"`
	Headers     map[string]string `yaml:"headers"`
}

type WebSocketProfile struct {
	Path         string        `yaml:"path"`
	ListenerType uint32        `yaml:"listener_type"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

func DefaultProfile() *Profile {
	p := &Profile{}
	p.applyDefaults()
	return p
}

// ParseProfile decodes a YAML profile. Empty input yields the defaults.
func ParseProfile(data []byte) (*Profile, error) {
	p := &Profile{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse transport profile: %w", err)
		}
	}
	p.applyDefaults()
	return p, nil
}

func (p *Profile) applyDefaults() {
	if p.HTTP.TasksPath == "" {
		p.HTTP.TasksPath = DefaultTasksPath
	}
	if p.HTTP.ResultsPath == "" {
		p.HTTP.ResultsPath = DefaultResultsPath
	}
	if p.HTTP.BeatHeader == "" {
		p.HTTP.BeatHeader = DefaultBeatHeader
	}
	if p.WebSocket.Path == "" {
		p.WebSocket.Path = DefaultWSPath
	}
	if p.WebSocket.ReadTimeout <= 0 {
		p.WebSocket.ReadTimeout = DefaultReadTimeout
	}
}
