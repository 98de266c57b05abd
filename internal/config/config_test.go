package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.StoreDriver != DriverSQLite {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ConfidenceThreshold != 0.5 || cfg.MaxApprovalIterations != 5 {
		t.Fatalf("unexpected policy defaults: %+v", cfg)
	}
	if cfg.AuthSessionTTL != 30*time.Minute {
		t.Fatalf("unexpected auth TTL: %v", cfg.AuthSessionTTL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("TURN_TIMEOUT", "15s")
	t.Setenv("HANDOFF_LOG_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StoreDriver != DriverMemory || cfg.ConfidenceThreshold != 0.7 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.TurnTimeout != 15*time.Second || cfg.Handoff.Enabled {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty port":        func(c *Config) { c.Port = "" },
		"unknown driver":    func(c *Config) { c.StoreDriver = "cassandra" },
		"sqlite no path":    func(c *Config) { c.StoreDriver = DriverSQLite; c.DBPath = "" },
		"redis no addr":     func(c *Config) { c.StoreDriver = DriverRedis; c.RedisAddr = "" },
		"threshold too big": func(c *Config) { c.ConfidenceThreshold = 1.2 },
		"zero iterations":   func(c *Config) { c.MaxApprovalIterations = 0 },
	}
	for name, mutate := range cases {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
