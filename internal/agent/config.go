package agent

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

type Protocol string

const (
	ProtocolHTTP      Protocol = "http"
	ProtocolWebSocket Protocol = "websocket"
)

const (
	DefaultSleep      = 5 * time.Second
	DefaultUserAgent  = "Mozilla/5.0"
	DefaultMaxRetries = 3
)

type ServerAddr struct {
	Host string
	Port int
}

func (s ServerAddr) String() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ParseServerAddr accepts "host:port".
func ParseServerAddr(value string) (ServerAddr, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(value))
	if err != nil {
		return ServerAddr{}, fmt.Errorf("invalid server address %q: %w", value, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ServerAddr{}, fmt.Errorf("invalid port in %q: %w", value, err)
	}
	return ServerAddr{Host: host, Port: port}, nil
}

// Config is read-shared by the scheduler and the transports and must not be
// mutated once the beacon has started.
type Config struct {
	Servers    []ServerAddr
	Protocol   Protocol
	Sleep      time.Duration
	Jitter     int
	UserAgent  string
	MaxRetries int
	Profile    []byte
	EncryptKey []byte
	Cipher     string
	AgentType  uint32
	UseTLS     bool
}

func DefaultConfig() *Config {
	return &Config{
		Protocol:   ProtocolHTTP,
		Sleep:      DefaultSleep,
		UserAgent:  DefaultUserAgent,
		MaxRetries: DefaultMaxRetries,
	}
}

// SetJitter stores the jitter percent clamped to [0,100].
func (c *Config) SetJitter(percent int) {
	c.Jitter = ClampJitter(percent)
}

func ClampJitter(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

var ErrNoServers = errors.New("at least one server is required")

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if len(c.Servers) == 0 {
		result = multierror.Append(result, ErrNoServers)
	}
	for i, s := range c.Servers {
		if s.Host == "" {
			result = multierror.Append(result, fmt.Errorf("server %d: empty host", i))
		}
		if s.Port <= 0 || s.Port > 65535 {
			result = multierror.Append(result, fmt.Errorf("server %d: invalid port %d", i, s.Port))
		}
	}
	if c.Sleep <= 0 {
		result = multierror.Append(result, fmt.Errorf("sleep interval must be positive, got %s", c.Sleep))
	}
	if c.Jitter < 0 || c.Jitter > 100 {
		result = multierror.Append(result, fmt.Errorf("jitter must be within [0,100], got %d", c.Jitter))
	}
	switch c.Protocol {
	case ProtocolHTTP, ProtocolWebSocket:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown protocol %q", c.Protocol))
	}
	if len(c.EncryptKey) != SessionKeySize {
		result = multierror.Append(result, fmt.Errorf("encrypt key must be %d bytes, got %d", SessionKeySize, len(c.EncryptKey)))
	}
	if c.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries))
	}

	return result.ErrorOrNil()
}
