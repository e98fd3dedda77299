package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Backend     BackendConfig     `mapstructure:"backend"`
	Session     SessionConfig     `mapstructure:"session"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Development DevelopmentConfig `mapstructure:"development"`
}

type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	WSURL   string `mapstructure:"ws_url"`
}

type SessionConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type MatchmakingConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type IdentityConfig struct {
	Path string `mapstructure:"path"`
}

type DevelopmentConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Enable environment variables
	viper.SetEnvPrefix("INDICHESS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	viper.SetDefault("backend.base_url", "http://localhost:8060")
	viper.SetDefault("backend.ws_url", "ws://localhost:8060/ws")
	viper.SetDefault("session.poll_interval", "2s")
	viper.SetDefault("matchmaking.poll_interval", "1s")
	viper.SetDefault("matchmaking.max_attempts", 90)
	viper.SetDefault("identity.path", ".indichess/identity")
	viper.SetDefault("development.debug", false)
	viper.SetDefault("development.log_level", "info")

	// Read config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return loadDefaults(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func loadDefaults() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8060",
			WSURL:   "ws://localhost:8060/ws",
		},
		Session: SessionConfig{
			PollInterval: 2 * time.Second,
		},
		Matchmaking: MatchmakingConfig{
			PollInterval: time.Second,
			MaxAttempts:  90,
		},
		Identity: IdentityConfig{
			Path: ".indichess/identity",
		},
		Development: DevelopmentConfig{
			Debug:    false,
			LogLevel: "info",
		},
	}
}
