package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all client configuration
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Socket    SocketConfig    `mapstructure:"socket"`
	Badge     BadgeConfig     `mapstructure:"badge"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	State     StateConfig     `mapstructure:"state"`
}

// APIConfig holds REST backend configuration
type APIConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	LogoutTimeout time.Duration `mapstructure:"logout_timeout"`
}

// SocketConfig holds realtime transport configuration
type SocketConfig struct {
	URL               string        `mapstructure:"url"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	PongWait          time.Duration `mapstructure:"pong_wait"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// BadgeConfig holds unread badge polling configuration
type BadgeConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// MessagingConfig holds thread behavior configuration
type MessagingConfig struct {
	TypingIdleTimeout time.Duration `mapstructure:"typing_idle_timeout"`
	HighlightWindow   time.Duration `mapstructure:"highlight_window"`
}

// StateConfig holds local state persistence configuration
type StateConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// Global config instance
var GlobalConfig *Config

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set defaults
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8001/api"
	}
	if cfg.API.DialTimeout == 0 {
		cfg.API.DialTimeout = 10 * time.Second
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = 30 * time.Second
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = 30 * time.Second
	}
	if cfg.API.LogoutTimeout == 0 {
		cfg.API.LogoutTimeout = 2 * time.Second
	}
	if cfg.Socket.URL == "" {
		cfg.Socket.URL = "ws://localhost:8001/ws"
	}
	if cfg.Socket.ReconnectAttempts == 0 {
		cfg.Socket.ReconnectAttempts = 5
	}
	if cfg.Socket.ReconnectDelay == 0 {
		cfg.Socket.ReconnectDelay = 1000 * time.Millisecond
	}
	if cfg.Socket.WriteWait == 0 {
		cfg.Socket.WriteWait = 10 * time.Second
	}
	if cfg.Socket.PongWait == 0 {
		cfg.Socket.PongWait = 30 * time.Second
	}
	if cfg.Socket.PingPeriod == 0 {
		cfg.Socket.PingPeriod = 27 * time.Second
	}
	if cfg.Socket.MaxMessageSize == 0 {
		cfg.Socket.MaxMessageSize = 51200
	}
	if cfg.Socket.PollInterval == 0 {
		cfg.Socket.PollInterval = 2 * time.Second
	}
	if cfg.Badge.PollInterval == 0 {
		cfg.Badge.PollInterval = 30 * time.Second
	}
	if cfg.Messaging.TypingIdleTimeout == 0 {
		cfg.Messaging.TypingIdleTimeout = 2 * time.Second
	}
	if cfg.Messaging.HighlightWindow == 0 {
		cfg.Messaging.HighlightWindow = 3 * time.Second
	}
	if cfg.State.FilePath == "" {
		cfg.State.FilePath = "state/client_state.json"
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

// Default returns a config populated with defaults only, for embedding use
// where no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.API.BaseURL = "http://localhost:8001/api"
	cfg.API.DialTimeout = 10 * time.Second
	cfg.API.ReadTimeout = 30 * time.Second
	cfg.API.WriteTimeout = 30 * time.Second
	cfg.API.LogoutTimeout = 2 * time.Second
	cfg.Socket.URL = "ws://localhost:8001/ws"
	cfg.Socket.ReconnectAttempts = 5
	cfg.Socket.ReconnectDelay = 1000 * time.Millisecond
	cfg.Socket.WriteWait = 10 * time.Second
	cfg.Socket.PongWait = 30 * time.Second
	cfg.Socket.PingPeriod = 27 * time.Second
	cfg.Socket.MaxMessageSize = 51200
	cfg.Socket.PollInterval = 2 * time.Second
	cfg.Badge.PollInterval = 30 * time.Second
	cfg.Messaging.TypingIdleTimeout = 2 * time.Second
	cfg.Messaging.HighlightWindow = 3 * time.Second
	cfg.State.FilePath = "state/client_state.json"
	return cfg
}
