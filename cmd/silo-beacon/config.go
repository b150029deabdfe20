package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/transport"
)

type Config struct {
	Log      LogConfig
	Beacon   BeaconConfig
	DoH      DoHConfig `mapstructure:"doh"`
	Executor ExecutorConfig
	State    StateConfig
}

type BeaconConfig struct {
	Servers     []string      `mapstructure:"servers"`
	Protocol    string        `mapstructure:"protocol"`
	Sleep       time.Duration `mapstructure:"sleep"`
	Jitter      int           `mapstructure:"jitter"`
	UserAgent   string        `mapstructure:"user_agent"`
	MaxRetries  int           `mapstructure:"max_retries"`
	ProfileFile string        `mapstructure:"profile_file"`
	EncryptKey  string        `mapstructure:"encrypt_key" json:"-"`
	Cipher      string        `mapstructure:"cipher"`
	AgentType   uint32        `mapstructure:"agent_type"`
	KillDate    string        `mapstructure:"kill_date"`
	WorkingTime string        `mapstructure:"working_time"`
	TLS         TLSConfig     `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	ServerNameOverride string `mapstructure:"server_name_override"`
}

type DoHConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ExecutorConfig struct {
	Interpreter string `mapstructure:"interpreter"`
}

type StateConfig struct {
	Path string `mapstructure:"path"`
}

var config Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", LOG_LEVEL_INFO)
	v.SetDefault("beacon.protocol", string(agent.ProtocolHTTP))
	v.SetDefault("beacon.sleep", agent.DefaultSleep)
	v.SetDefault("beacon.user_agent", agent.DefaultUserAgent)
	v.SetDefault("beacon.max_retries", agent.DefaultMaxRetries)
	v.SetDefault("doh.url", transport.DefaultDoHURL)
	v.SetDefault("doh.timeout", transport.DefaultDoHTimeout)
}

// InitConfig loads application.yml, .env and the environment into config
// and sets up logging. An explicit file overrides the search path.
func InitConfig(file string) error {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("application")
		v.AddConfigPath(".")
		v.AddConfigPath("./cmd/silo-beacon")
	}
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := v.Unmarshal(&config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
	return nil
}

// agentConfig converts the file-level settings into the runtime config plus
// the session's kill date and packed working window.
func (c BeaconConfig) agentConfig() (cfg *agent.Config, killDate, workingTime uint32, err error) {
	cfg = agent.DefaultConfig()

	for _, s := range c.Servers {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			addr, err := agent.ParseServerAddr(part)
			if err != nil {
				return nil, 0, 0, err
			}
			cfg.Servers = append(cfg.Servers, addr)
		}
	}

	if c.Protocol != "" {
		cfg.Protocol = agent.Protocol(strings.ToLower(c.Protocol))
	}
	if c.Sleep != 0 {
		cfg.Sleep = c.Sleep
	}
	cfg.SetJitter(c.Jitter)
	if c.UserAgent != "" {
		cfg.UserAgent = c.UserAgent
	}
	cfg.MaxRetries = c.MaxRetries
	cfg.Cipher = c.Cipher
	cfg.AgentType = c.AgentType
	cfg.UseTLS = c.TLS.Enabled

	if c.EncryptKey != "" {
		cfg.EncryptKey, err = hex.DecodeString(c.EncryptKey)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("encrypt_key must be hex: %w", err)
		}
	}

	if c.ProfileFile != "" {
		cfg.Profile, err = os.ReadFile(c.ProfileFile)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to read profile: %w", err)
		}
	}

	if c.KillDate != "" {
		t, err := time.Parse(time.RFC3339, c.KillDate)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("kill_date must be RFC3339: %w", err)
		}
		killDate = uint32(t.Unix())
	}

	workingTime, err = agent.ParseWorkingTime(c.WorkingTime)
	if err != nil {
		return nil, 0, 0, err
	}

	return cfg, killDate, workingTime, nil
}
