package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatchd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.Store.Driver != "memory" {
		t.Errorf("defaults = %q/%q", cfg.Listen, cfg.Store.Driver)
	}
	if cfg.Dispatch.OfferTTL != 300*time.Second {
		t.Errorf("OfferTTL = %v, want 5m0s", cfg.Dispatch.OfferTTL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
store:
  driver: badger
  path: /var/lib/dispatch
dispatch:
  offer_ttl: 2m
  max_candidates: 5
weights:
  category: 40
  rating: 20
  availability: 20
  proximity: 10
  responsiveness: 5
  completion: 5
dwp:
  enabled: true
  keys:
    - token: t1
      subject: prov_01h2xcejqtf2nbrexx3vqjhp41
      scopes: ["offer:read", "offer:write"]
task_timeout: 10s
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.Store.Driver != "badger" || cfg.Store.Path != "/var/lib/dispatch" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Dispatch.OfferTTL != 2*time.Minute || cfg.Dispatch.MaxCandidates != 5 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.SweepSchedule == "" {
		t.Error("unset dispatch fields should keep their defaults")
	}
	if cfg.Weights == nil || cfg.Weights.Category != 40 {
		t.Errorf("weights = %+v", cfg.Weights)
	}
	if !cfg.DWP.Enabled || len(cfg.DWP.Keys) != 1 || cfg.DWP.Path != "/dwp" {
		t.Errorf("dwp = %+v", cfg.DWP)
	}
	if cfg.TaskTimeout != 10*time.Second {
		t.Errorf("TaskTimeout = %v", cfg.TaskTimeout)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DISPATCH_LISTEN":       ":7000",
		"DISPATCH_STORE_DRIVER": "redis",
		"DISPATCH_STORE_DSN":    "redis://localhost:6379/2",
		"DISPATCH_OFFER_TTL":    "90s",
		"DISPATCH_CONCURRENCY":  "3",
	}
	cfg := defaultConfig()
	err := applyEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Listen != ":7000" || cfg.Store.Driver != "redis" || cfg.Store.DSN != "redis://localhost:6379/2" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Dispatch.OfferTTL != 90*time.Second || cfg.Dispatch.Concurrency != 3 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DISPATCH_OFFER_TTL", "soon"},
		{"DISPATCH_CONCURRENCY", "many"},
		{"DISPATCH_DWP_ENABLED", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := defaultConfig()
			err := applyEnv(&cfg, func(k string) (string, bool) {
				if k == tt.key {
					return tt.value, true
				}
				return "", false
			})
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("applyEnv(%s=%s) = %v", tt.key, tt.value, err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, true},
		{"postgres with dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "postgres://x" }, false},
		{"badger in memory", func(c *Config) { c.Store.Driver = "badger" }, false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, true},
		{"zero ttl", func(c *Config) { c.Dispatch.OfferTTL = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			if err := cfg.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
