package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// ErrMissingToken is returned by LoadEnv when DISCORD_TOKEN is unset or blank.
var ErrMissingToken = errors.New("DISCORD_TOKEN is not set")

// Env holds settings read from the process environment.
type Env struct {
	Token      string `env:"DISCORD_TOKEN"`
	Port       string `env:"PORT"`
	ConfigPath string `env:"MODLOG_CONFIG" envDefault:"config.yaml"`
}

// LoadEnv reads the environment, loading a .env file first when present.
func LoadEnv() (*Env, error) {
	_ = godotenv.Load()

	e := &Env{}
	if err := env.Parse(e); err != nil {
		return nil, err
	}
	e.Token = strings.TrimSpace(e.Token)
	if e.Token == "" {
		return nil, ErrMissingToken
	}
	return e, nil
}

// HealthAddr returns the listen address for the health endpoint. PORT, when
// set, replaces the port of the configured address.
func HealthAddr(cfg *Config, e *Env) (string, error) {
	addr := DefaultHealthAddr
	if cfg != nil && strings.TrimSpace(cfg.Health.Addr) != "" {
		addr = strings.TrimSpace(cfg.Health.Addr)
	}
	if e == nil || strings.TrimSpace(e.Port) == "" {
		return addr, nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("health.addr: %w", err)
	}
	return net.JoinHostPort(host, strings.TrimSpace(e.Port)), nil
}
