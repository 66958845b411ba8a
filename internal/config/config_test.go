package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// isolate clears every env var Load looks at and moves into an empty dir so no
// stray config.yaml is picked up.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "SERVER_PORT", "ALLOWED_ORIGINS", "MAX_MESSAGE_SIZE", "SEND_BUFFER",
		"RATE_LIMIT_BURST", "RATE_LIMIT_REFILL_INTERVAL", "HEARTBEAT_INTERVAL",
		"HISTORY_LIMIT", "HISTORY_MAX_LIMIT", "DB_PATH", "BCRYPT_ROUNDS", "TOKEN_TTL",
		"TOKEN_STORE", "REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_PREFIX",
		"LOG_LEVEL", "LOG_PRETTY",
	} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Default()
	if !reflect.DeepEqual(*cfg, Sanitize(d)) {
		t.Fatalf("defaults mismatch:\n got %+v\nwant %+v", *cfg, Sanitize(d))
	}
	if cfg.History.DefaultLimit != 100 {
		t.Fatalf("history default = %d, want 100", cfg.History.DefaultLimit)
	}
	if cfg.Liveness.Interval != 30*time.Second {
		t.Fatalf("liveness interval = %v", cfg.Liveness.Interval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "4000")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("HISTORY_LIMIT", "25")
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("BCRYPT_ROUNDS", "4")
	t.Setenv("DB_PATH", "/tmp/x.db")
	t.Setenv("TOKEN_STORE", "Redis")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != ":4000" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if want := []string{"http://a.example", "http://b.example"}; !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("origins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	if cfg.History.DefaultLimit != 25 {
		t.Errorf("history = %d", cfg.History.DefaultLimit)
	}
	if cfg.Liveness.Interval != 5*time.Second {
		t.Errorf("interval = %v", cfg.Liveness.Interval)
	}
	if cfg.Auth.BcryptCost != 4 || cfg.Database.Path != "/tmp/x.db" || cfg.Auth.TokenStore != TokenStoreRedis {
		t.Errorf("auth/db = %+v %+v", cfg.Auth, cfg.Database)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "agentchat.yaml")
	body := []byte(`
server:
  port: ":9999"
  allowed_origins: ["*"]
history:
  default_limit: 10
  max_limit: 50
rate_limit:
  burst: 3
  refill_interval: 2s
`)
	if err := os.WriteFile(file, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != ":9999" || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.History.DefaultLimit != 10 || cfg.History.MaxLimit != 50 {
		t.Errorf("history = %+v", cfg.History)
	}
	if cfg.RateLimit.Burst != 3 || cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
}

func TestLoad_NonexistentPathFallsBackToDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
}

func TestLoad_InvalidTokenStore(t *testing.T) {
	isolate(t)
	t.Setenv("TOKEN_STORE", "etcd")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown token store")
	}
}

func TestSanitize(t *testing.T) {
	in := Config{
		Server: ServerConfig{Port: " 8080 ", AllowedOrigins: []string{"a,b", " ", "c"}},
		History: HistoryConfig{
			DefaultLimit: 2000,
			MaxLimit:     10,
		},
		Auth:     AuthConfig{TokenTTL: -time.Second},
		Database: DatabaseConfig{Path: "x.db"},
	}
	out := Sanitize(in)

	if out.Server.Port != ":8080" {
		t.Errorf("port = %q", out.Server.Port)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(out.Server.AllowedOrigins, want) {
		t.Errorf("origins = %v", out.Server.AllowedOrigins)
	}
	if out.Server.MaxMessageSize <= 0 || out.Server.SendBuffer <= 0 {
		t.Errorf("sizes not defaulted: %+v", out.Server)
	}
	if out.History.MaxLimit < out.History.DefaultLimit {
		t.Errorf("max limit %d below default %d", out.History.MaxLimit, out.History.DefaultLimit)
	}
	if out.Auth.TokenTTL != 0 || out.Auth.TokenStore != TokenStoreMemory || out.Auth.BcryptCost != 10 {
		t.Errorf("auth = %+v", out.Auth)
	}
	if out.RateLimit.Burst <= 0 || out.RateLimit.RefillInterval <= 0 || out.Liveness.Interval <= 0 {
		t.Errorf("timers not defaulted: %+v %+v", out.RateLimit, out.Liveness)
	}
}
