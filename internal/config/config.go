// Package config provides boot configuration for the traceya binaries.
// Runtime settings (sync interval, SMS gateway, language) live in the local
// store; this covers only what must be known before the store is open.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds boot settings for the device-local app server.
type Config struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	DataDir          string        `mapstructure:"data_dir"`
	RemoteBaseURL    string        `mapstructure:"remote_base_url"`
	DeviceID         string        `mapstructure:"device_id"`
	LogFile          string        `mapstructure:"log_file"`
	LogLevel         string        `mapstructure:"log_level"`
	TransportTimeout time.Duration `mapstructure:"transport_timeout"`
	MaxAutoRetries   int           `mapstructure:"max_auto_retries"`
}

// RemoteConfig holds boot settings for the mock remote backend.
type RemoteConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`
	LogFile    string `mapstructure:"log_file"`
	LogLevel   string `mapstructure:"log_level"`
}

func newViper(envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("traceya")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.traceya")
	return v
}

// Load reads app configuration from traceya.yaml (if present) and
// TRACEYA_* environment variables, over defaults.
func Load() (*Config, error) {
	v := newViper("TRACEYA")
	v.SetDefault("listen_addr", "127.0.0.1:8090")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("remote_base_url", "http://127.0.0.1:8091")
	v.SetDefault("device_id", "")
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("transport_timeout", 30*time.Second)
	v.SetDefault("max_auto_retries", 0)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadRemote reads remote-backend configuration from the same sources under
// the TRACEYA_REMOTE_* prefix.
func LoadRemote() (*RemoteConfig, error) {
	v := newViper("TRACEYA_REMOTE")
	v.SetConfigName("traceya-remote")
	v.SetDefault("listen_addr", "127.0.0.1:8091")
	v.SetDefault("data_dir", "./data-remote")
	v.SetDefault("log_file", "")
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg RemoteConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
