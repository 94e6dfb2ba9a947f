package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	DefaultSession string        `mapstructure:"default_session"`
	MaxViewers     int           `mapstructure:"max_viewers"`
	MaxSessions    int           `mapstructure:"max_sessions"`
	JoinLimit      int           `mapstructure:"join_limit"`
	JoinInterval   time.Duration `mapstructure:"join_interval"`
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Jitter      float64       `mapstructure:"jitter"`
}

type ClientConfig struct {
	ServerURL          string          `mapstructure:"server_url"`
	Session            string          `mapstructure:"session"`
	ICEServers         []string        `mapstructure:"ice_servers"`
	DialTimeout        time.Duration   `mapstructure:"dial_timeout"`
	NegotiationTimeout time.Duration   `mapstructure:"negotiation_timeout"`
	RTPListen          string          `mapstructure:"rtp_listen"`
	Reconnect          ReconnectConfig `mapstructure:"reconnect"`
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("default_session", "1121")
	v.SetDefault("max_viewers", 8)
	v.SetDefault("max_sessions", 1024)
	v.SetDefault("join_limit", 10)
	v.SetDefault("join_interval", "10s")
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("session", "1121")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("dial_timeout", "10s")
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("rtp_listen", "127.0.0.1:5004")
	v.SetDefault("reconnect.base_delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("reconnect.max_attempts", 5)
	v.SetDefault("reconnect.jitter", 0.2)
}

func readFile(v *viper.Viper, prefix string) {
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", prefix, env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}
}

// Load reads the relay configuration.
func Load() (*Config, error) {
	v := viper.New()
	setServerDefaults(v)
	readFile(v, "config")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Session: %s\n", cfg.Mode, cfg.Port, cfg.DefaultSession)
	return &cfg, nil
}

// LoadClient reads the participant configuration. Flags that were set on the
// command line override the file; flag names use the config keys.
func LoadClient(flags *pflag.FlagSet) (*ClientConfig, error) {
	v := viper.New()
	setClientDefaults(v)
	readFile(v, "client")
	v.SetEnvPrefix("MIRROR")
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		return nil, fmt.Errorf("reconnect.max_attempts must be >= 0, got %d", cfg.Reconnect.MaxAttempts)
	}
	return &cfg, nil
}
