package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func writeFile(t *testing.T, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// ============================================================================
// LEVEL 1: Defaults and environment
// ============================================================================

func TestLoadEnv_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := LoadEnv(envMap(map[string]string{"CRAWLER_CONFIG": ""}))
	if err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}

	if cfg.Redis.Host != "localhost" || cfg.Redis.Port != 6379 {
		t.Errorf("redis = %s:%d", cfg.Redis.Host, cfg.Redis.Port)
	}
	if cfg.Queue.Key != "TASK_QUEUE" {
		t.Errorf("queue key = %q", cfg.Queue.Key)
	}
	if cfg.Queue.SleepEmpty.Std() != 60*time.Second {
		t.Errorf("sleep = %v", cfg.Queue.SleepEmpty.Std())
	}
	if cfg.Leader.Key != "LEADER" || cfg.Leader.TTL.Std() != 1200*time.Second {
		t.Errorf("leader = %q %v", cfg.Leader.Key, cfg.Leader.TTL.Std())
	}
	if cfg.Proxy.PoolKey != "PROXY_POOL" || cfg.Proxy.Interval.Std() != time.Hour {
		t.Errorf("proxy = %q %v", cfg.Proxy.PoolKey, cfg.Proxy.Interval.Std())
	}
	if cfg.Worker == "" {
		t.Error("worker identity should be generated")
	}
}

func TestDefaultIdentity_Unique(t *testing.T) {
	a, b := DefaultIdentity(), DefaultIdentity()
	if a == b {
		t.Fatalf("identities should differ: %q", a)
	}
	host, _ := os.Hostname()
	if host != "" && !strings.HasPrefix(a, host+"-") {
		t.Errorf("identity %q should start with hostname", a)
	}
}

func TestLoadEnv_Overrides(t *testing.T) {
	isolate(t)
	cfg, err := LoadEnv(envMap(map[string]string{
		"CRAWLER_CONFIG":    "",
		"WORKER":            "crawler-7",
		"REDIS_HOST":        "redis.internal",
		"REDIS_PORT":        "6380",
		"REDIS_PASSWORD":    "s3cret",
		"REDIS_DB":          "2",
		"SLEEP_QUEUE_EMPTY": "5",
		"LOG_LEVEL":         "debug",
		"ADMIN_ADDR":        ":9090",
	}))
	if err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}

	if cfg.Worker != "crawler-7" {
		t.Errorf("worker = %q", cfg.Worker)
	}
	if cfg.Redis.Host != "redis.internal" || cfg.Redis.Port != 6380 || cfg.Redis.DB != 2 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Redis.Password != "s3cret" {
		t.Errorf("password = %q", cfg.Redis.Password)
	}
	if cfg.Queue.SleepEmpty.Std() != 5*time.Second {
		t.Errorf("sleep = %v", cfg.Queue.SleepEmpty.Std())
	}
	if cfg.Log.Level != "debug" || cfg.Admin.Addr != ":9090" {
		t.Errorf("log=%q admin=%q", cfg.Log.Level, cfg.Admin.Addr)
	}
}

func TestLoadEnv_ZeroSleepRejected(t *testing.T) {
	isolate(t)
	_, err := LoadEnv(envMap(map[string]string{"CRAWLER_CONFIG": "", "SLEEP_QUEUE_EMPTY": "0"}))
	if !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestLoadEnv_InvalidValues(t *testing.T) {
	isolate(t)
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port not a number", map[string]string{"REDIS_PORT": "abc"}},
		{"port out of range", map[string]string{"REDIS_PORT": "70000"}},
		{"db not a number", map[string]string{"REDIS_DB": "x"}},
		{"sleep not a number", map[string]string{"SLEEP_QUEUE_EMPTY": "soon"}},
		{"missing config file", map[string]string{"CRAWLER_CONFIG": "/nonexistent/crawler.toml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.env["CRAWLER_CONFIG"]; !ok {
				tt.env["CRAWLER_CONFIG"] = ""
			}
			if _, err := LoadEnv(envMap(tt.env)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// ============================================================================
// LEVEL 2: Files
// ============================================================================

func TestLoadEnv_File(t *testing.T) {
	isolate(t)
	path := writeFile(t, "crawler.toml", `
worker = "from-file"

[redis]
host = "redis"
port = 7000

[queue]
key = "JOBS"
sleep_empty = "90s"
fail_fast = true

[leader]
ttl = "30s"

[proxy]
enabled = false
interval = "15m"
`, 0644)

	cfg, err := LoadEnv(envMap(map[string]string{
		"CRAWLER_CONFIG": path,
		"REDIS_PORT":     "7001",
	}))
	if err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}

	if cfg.Worker != "from-file" || cfg.Redis.Host != "redis" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Redis.Port != 7001 {
		t.Errorf("environment should win over file, port = %d", cfg.Redis.Port)
	}
	if cfg.Queue.Key != "JOBS" || !cfg.Queue.FailFast || cfg.Queue.SleepEmpty.Std() != 90*time.Second {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Leader.Key != "LEADER" || cfg.Leader.TTL.Std() != 30*time.Second {
		t.Errorf("leader = %+v", cfg.Leader)
	}
	if cfg.Proxy.Enabled || cfg.Proxy.Interval.Std() != 15*time.Minute {
		t.Errorf("proxy = %+v", cfg.Proxy)
	}
}

func TestLoadFile_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "crawler.toml", "[redis]\nhots = \"typo\"\n", 0644)
	cfg := Default()
	err := cfg.LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "redis.hots") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadFile_BadDuration(t *testing.T) {
	path := writeFile(t, "crawler.toml", "[leader]\nttl = \"forever\"\n", 0644)
	cfg := Default()
	if err := cfg.LoadFile(path); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"defaults", func(*Config) {}, nil},
		{"zero port", func(c *Config) { c.Redis.Port = 0 }, ErrInvalidPort},
		{"empty queue key", func(c *Config) { c.Queue.Key = "" }, ErrEmptyKey},
		{"empty leader key", func(c *Config) { c.Leader.Key = "" }, ErrEmptyKey},
		{"zero ttl", func(c *Config) { c.Leader.TTL = 0 }, ErrInvalidDuration},
		{"negative sleep", func(c *Config) { c.Queue.SleepEmpty = -1 }, ErrInvalidDuration},
		{"zero sleep", func(c *Config) { c.Queue.SleepEmpty = 0 }, ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err != tt.want {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

// ============================================================================
// LEVEL 3: Credentials
// ============================================================================

func TestLoadCredentialsFile(t *testing.T) {
	path := writeFile(t, "credentials.toml", "[redis]\npassword = \"hunter2\"\n", 0400)

	creds, err := LoadCredentialsFile(path)
	if err != nil {
		t.Fatalf("LoadCredentialsFile failed: %v", err)
	}
	if creds.RedisPassword() != "hunter2" {
		t.Errorf("password = %q", creds.RedisPassword())
	}
}

func TestLoadCredentialsFile_InsecurePermissions(t *testing.T) {
	path := writeFile(t, "credentials.toml", "[redis]\npassword = \"hunter2\"\n", 0644)

	_, err := LoadCredentialsFile(path)
	if !errors.Is(err, ErrInsecurePermissions) {
		t.Fatalf("expected ErrInsecurePermissions, got %v", err)
	}
}

func TestLoadEnv_CredentialsFromHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "crawlkit")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "credentials.toml")
	if err := os.WriteFile(path, []byte("[redis]\npassword = \"from-creds\"\n"), 0400); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadEnv(envMap(map[string]string{"CRAWLER_CONFIG": ""}))
	if err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if cfg.Redis.Password != "from-creds" {
		t.Errorf("password = %q", cfg.Redis.Password)
	}

	cfg, err = LoadEnv(envMap(map[string]string{"CRAWLER_CONFIG": "", "REDIS_PASSWORD": "env"}))
	if err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if cfg.Redis.Password != "env" {
		t.Errorf("environment should win, password = %q", cfg.Redis.Password)
	}
}

func TestCredentials_NilSafe(t *testing.T) {
	var c *Credentials
	if c.RedisPassword() != "" {
		t.Error("nil credentials should have no password")
	}
}
