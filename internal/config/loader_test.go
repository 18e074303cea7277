package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing yaml should not error: %v", err)
	}
	if cfg.Server.Port != "4000" {
		t.Fatalf("port = %s, want default 4000", cfg.Server.Port)
	}
	if cfg.Cache.MaxSessions != 50 {
		t.Fatalf("max_sessions = %d, want default 50", cfg.Cache.MaxSessions)
	}
	if cfg.Cache.TTL != 60*time.Second {
		t.Fatalf("ttl = %v, want 60s", cfg.Cache.TTL)
	}
	if cfg.NATS.Enabled {
		t.Fatal("relay should be disabled by default")
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claude-comms.yaml")
	yaml := `
server:
  port: "9999"
cache:
  max_sessions: 10
stream:
  tick: 20ms
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9999" {
		t.Fatalf("port = %s, want 9999", cfg.Server.Port)
	}
	if cfg.Cache.MaxSessions != 10 {
		t.Fatalf("max_sessions = %d, want 10", cfg.Cache.MaxSessions)
	}
	if cfg.Stream.Tick != 20*time.Millisecond {
		t.Fatalf("tick = %v, want 20ms", cfg.Stream.Tick)
	}
	// Untouched sections keep defaults.
	if cfg.Postgres.MaxConns != 10 {
		t.Fatalf("pg max_conns = %d, want default 10", cfg.Postgres.MaxConns)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claude-comms.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9999\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLAUDE_COMMS_PORT", "4040")
	t.Setenv("CLAUDE_COMMS_STREAM_TICK", "32ms")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "4040" {
		t.Fatalf("port = %s, want env override 4040", cfg.Server.Port)
	}
	if cfg.Stream.Tick != 32*time.Millisecond {
		t.Fatalf("tick = %v, want 32ms", cfg.Stream.Tick)
	}
}

func TestValidateTickRange(t *testing.T) {
	cfg := Defaults()
	cfg.Stream.Tick = 5 * time.Millisecond
	if err := validate(&cfg); err == nil {
		t.Fatal("tick below 16ms should fail validation")
	}
	cfg.Stream.Tick = 200 * time.Millisecond
	if err := validate(&cfg); err == nil {
		t.Fatal("tick above 100ms should fail validation")
	}
}

func TestValidateRelayNeedsURL(t *testing.T) {
	cfg := Defaults()
	cfg.NATS.Enabled = true
	cfg.NATS.URL = ""
	if err := validate(&cfg); err == nil {
		t.Fatal("enabled relay without url should fail validation")
	}
}
