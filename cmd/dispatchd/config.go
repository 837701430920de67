package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/ranking"
)

// Config is the daemon configuration file.
type Config struct {
	Listen      string           `yaml:"listen"`
	LogLevel    string           `yaml:"log_level"`
	Store       StoreConfig      `yaml:"store"`
	Dispatch    dispatch.Config  `yaml:"dispatch"`
	Weights     *ranking.Weights `yaml:"weights,omitempty"`
	DWP         DWPConfig        `yaml:"dwp"`
	TaskTimeout time.Duration    `yaml:"task_timeout"`
}

// StoreConfig selects and locates the backend.
type StoreConfig struct {
	// Driver is one of memory, postgres, bun, redis or badger.
	Driver string `yaml:"driver"`
	// DSN is the connection string for postgres, bun and redis.
	DSN string `yaml:"dsn"`
	// Path is the badger data directory. Empty runs badger in memory.
	Path string `yaml:"path"`
}

// DWPConfig controls the provider wire protocol.
type DWPConfig struct {
	Enabled bool     `yaml:"enabled"`
	Path    string   `yaml:"path"`
	Keys    []DWPKey `yaml:"keys"`
}

// DWPKey maps a static token to a wire protocol identity.
type DWPKey struct {
	Token   string   `yaml:"token"`
	Subject string   `yaml:"subject"`
	Scopes  []string `yaml:"scopes"`
}

func defaultConfig() Config {
	return Config{
		Listen:      ":8080",
		LogLevel:    "info",
		Store:       StoreConfig{Driver: "memory"},
		Dispatch:    dispatch.DefaultConfig(),
		DWP:         DWPConfig{Path: "/dwp"},
		TaskTimeout: 30 * time.Second,
	}
}

// loadConfig reads path over the defaults, then applies DISPATCH_*
// environment overrides. An empty path skips the file.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("DISPATCH_LISTEN"); ok {
		cfg.Listen = v
	}
	if v, ok := lookup("DISPATCH_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup("DISPATCH_STORE_DRIVER"); ok {
		cfg.Store.Driver = v
	}
	if v, ok := lookup("DISPATCH_STORE_DSN"); ok {
		cfg.Store.DSN = v
	}
	if v, ok := lookup("DISPATCH_STORE_PATH"); ok {
		cfg.Store.Path = v
	}
	if v, ok := lookup("DISPATCH_OFFER_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_OFFER_TTL: %w", err)
		}
		cfg.Dispatch.OfferTTL = d
	}
	if v, ok := lookup("DISPATCH_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_CONCURRENCY: %w", err)
		}
		cfg.Dispatch.Concurrency = n
	}
	if v, ok := lookup("DISPATCH_DWP_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DISPATCH_DWP_ENABLED: %w", err)
		}
		cfg.DWP.Enabled = b
	}
	return nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres", "bun", "redis":
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver %s needs a dsn", c.Store.Driver)
		}
	case "badger":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Dispatch.OfferTTL <= 0 {
		return errors.New("dispatch.offer_ttl must be positive")
	}
	if c.Weights != nil {
		if err := c.Weights.Validate(); err != nil {
			return err
		}
	}
	return nil
}
