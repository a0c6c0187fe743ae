package config

import (
	"os"
	"testing"
)

// chdir switches the working directory for the duration of the test,
// mirroring t.Chdir (which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

// === Defaults ===

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load without config file: %v", err)
	}

	if cfg.DatabaseURL != "cache.db" {
		t.Errorf("database_url default: got %q", cfg.DatabaseURL)
	}
	if cfg.Server.Port != 4321 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server defaults: got %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.MaxConcurrentRequests != 100 {
		t.Errorf("max_concurrent_requests default: got %d", cfg.MaxConcurrentRequests)
	}
	if !cfg.Cache.Enabled || cfg.Cache.MaxItems != 100 || cfg.Cache.BatchWriteSize != 20 {
		t.Errorf("cache defaults: %+v", cfg.Cache)
	}
	if cfg.Database.MaxConnections != 100 || cfg.Database.MinConnections != 10 {
		t.Errorf("database pool defaults: %+v", cfg.Database)
	}
	if cfg.APIDefaults.CacheMaxSizeBytes != 5*1024*1024 {
		t.Errorf("cache_max_size_bytes default: got %d", cfg.APIDefaults.CacheMaxSizeBytes)
	}
	if cfg.APIDefaults.CacheSystemFingerprint != "cached" {
		t.Errorf("cache fingerprint default: got %q", cfg.APIDefaults.CacheSystemFingerprint)
	}
	if got := cfg.APIHeaders["Content-Type"]; got != "application/json" {
		t.Errorf("api_headers default: got %q", got)
	}
}

// === YAML file ===

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := `
database_url: /tmp/other.db
cache_override_mode: true
cache_version: 3
api_endpoints:
  - url: http://a.example
    weight: 3
    model: m-large
    version: 2
  - url: http://b.example
    weight: 1
server:
  port: 9000
idle_flush:
  enabled: true
  idle_timeout_seconds: 60
`
	if err := os.WriteFile("config.yaml", []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DatabaseURL != "/tmp/other.db" {
		t.Errorf("database_url: got %q", cfg.DatabaseURL)
	}
	if !cfg.CacheOverrideMode || cfg.CacheVersion != 3 {
		t.Errorf("version gate: override=%v version=%d", cfg.CacheOverrideMode, cfg.CacheVersion)
	}
	if len(cfg.APIEndpoints) != 2 {
		t.Fatalf("endpoints: got %d", len(cfg.APIEndpoints))
	}
	ep := cfg.APIEndpoints[0]
	if ep.URL != "http://a.example" || ep.Weight != 3 || ep.Model != "m-large" || ep.Version != 2 {
		t.Errorf("endpoint fields: %+v", ep)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("server.port override: got %d", cfg.Server.Port)
	}
	if !cfg.IdleFlush.Enabled || cfg.IdleFlush.IdleTimeoutSeconds != 60 {
		t.Errorf("idle_flush: %+v", cfg.IdleFlush)
	}
	// 未覆盖的字段保持默认
	if cfg.IdleFlush.CheckIntervalSeconds != 10 {
		t.Errorf("check_interval default: got %d", cfg.IdleFlush.CheckIntervalSeconds)
	}
}

// === Env override ===

func TestLoad_EnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LLMCACHED_DATABASE_URL", "env.db")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseURL != "env.db" {
		t.Errorf("env override: got %q", cfg.DatabaseURL)
	}
}

// === Dump ===

func TestDump(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	out, err := cfg.Dump()
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if len(out) == 0 {
		t.Error("dump should render the effective config")
	}
}
