// Package config loads slipwayd configuration from an optional YAML file
// overlaid by SLIPWAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration. File values act as defaults;
// the environment wins.
type Config struct {
	// AppsPath is the base directory holding one subdirectory per
	// application (sources, cache, builds).
	AppsPath string `env:"APPS_PATH" yaml:"apps_path"`

	// Domain is the externally visible platform domain. Release
	// containers are routed at <app>.<domain>.
	Domain string `env:"DOMAIN" yaml:"domain"`

	// Token is the shared secret required to trigger builds.
	Token string `env:"TOKEN" yaml:"token"`

	Host string `env:"HOST" yaml:"host"`
	Port int    `env:"PORT" yaml:"port"`

	BuildImage   string `env:"BUILD_IMAGE" yaml:"build_image"`
	RuntimeImage string `env:"RUNTIME_IMAGE" yaml:"runtime_image"`

	// Network is the Docker network release containers join; the reverse
	// proxy is expected to reach them there.
	Network string `env:"NETWORK" yaml:"network"`

	DockerSocket string `env:"DOCKER_SOCKET" yaml:"docker_socket"`
	HistoryDB    string `env:"HISTORY_DB" yaml:"history_db"`

	LogLevel  string `env:"LOG_LEVEL" yaml:"log_level"`
	LogFormat string `env:"LOG_FORMAT" yaml:"log_format"`
}

const envPrefix = "SLIPWAY_"

// Load reads the optional config file at path (no error if absent), then
// parses the environment over it and validates the result.
func Load(path string, environ []string) (*Config, error) {
	cfg := &Config{
		Host:         "0.0.0.0",
		Port:         8080,
		BuildImage:   "slipway/builder:latest",
		RuntimeImage: "slipway/runtime:latest",
		Network:      "slipway",
		DockerSocket: "/var/run/docker.sock",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	err := env.ParseWithOptions(cfg, env.Options{
		Prefix:      envPrefix,
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing required value. Missing any of these
// is a fatal startup condition.
func (c *Config) Validate() error {
	switch {
	case c.AppsPath == "":
		return errors.New("apps path is required (SLIPWAY_APPS_PATH)")
	case c.Domain == "":
		return errors.New("platform domain is required (SLIPWAY_DOMAIN)")
	case c.Token == "":
		return errors.New("shared secret token is required (SLIPWAY_TOKEN)")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid listen port %d", c.Port)
	}
	return nil
}
