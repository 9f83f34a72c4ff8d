// Package config loads the host configuration: bind address, WebSocket and
// health routes, keep-alive frequency, worker pool sizing, and the optional
// etcd endpoints used for service discovery.
//
// Values come from (lowest to highest precedence) built-in defaults, an
// optional config file, and WSRPC_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ws-rpc/logger"
)

// Config is the host configuration.
type Config struct {
	BindAddr      string        `mapstructure:"bind_addr"`
	WSPath        string        `mapstructure:"ws_path"`
	HealthPath    string        `mapstructure:"health_path"`
	PingFrequency time.Duration `mapstructure:"ping_frequency"`
	PoolSize      int           `mapstructure:"pool_size"`
	EtcdEndpoints []string      `mapstructure:"etcd_endpoints"`
	AdvertiseURL  string        `mapstructure:"advertise_url"`
	Log           logger.Config `mapstructure:"log"`
}

// Load reads the configuration. path may name a directory containing a
// "wsrpc.yaml" file; a missing file is not an error, the defaults and
// environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("wsrpc")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetDefault("bind_addr", "127.0.0.1:0")
	v.SetDefault("ws_path", "/ws")
	v.SetDefault("health_path", "/health")
	v.SetDefault("ping_frequency", 30*time.Second)
	v.SetDefault("pool_size", 64)
	v.SetDefault("etcd_endpoints", []string{})
	v.SetDefault("advertise_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.time_format", time.RFC3339)
	v.SetDefault("log.output", "stderr")

	v.SetEnvPrefix("WSRPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}
