package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.MinPlayers != 2 || cfg.Session.PointsPerCorrect != 10 {
		t.Fatalf("unexpected session defaults %+v", cfg.Session)
	}
	if cfg.RabbitMQ.Exchange != "quiz.lifecycle" {
		t.Fatalf("unexpected exchange %q", cfg.RabbitMQ.Exchange)
	}
}

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
server:
  port: "9090"
redis:
  addr: "localhost:6379"
  ttl: "5m"
session:
  min_players: 3
  store_timeout: "2s"
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Session.MinPlayers != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Fatalf("expected env override, got %q", cfg.Redis.Addr)
	}
	if got := TTLDuration(cfg.Session.StoreTimeout, time.Second); got != 2*time.Second {
		t.Fatalf("unexpected store timeout %v", got)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := TTLDuration("garbage", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for invalid input, got %v", got)
	}
}
