// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// ServerConfig configures the dev sync server.
type ServerConfig struct {
	Addr     string `env:"HEARTHSYNC_ADDR" env-default:":8080" env-description:"listen address"`
	DBPath   string `env:"HEARTHSYNC_DB" env-default:"hearthsyncd.db" env-description:"sqlite database path"`
	LogLevel string `env:"HEARTHSYNC_LOG_LEVEL" env-default:"info" env-description:"log level: debug|info|warn|error"`
}

// LoadServer reads the server configuration from the environment.
func LoadServer() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}
