package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultYAMLConfig(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if cfg.Auth.Algorithm != "RS256" {
		t.Errorf("Algorithm = %q, want RS256", cfg.Auth.Algorithm)
	}
	if cfg.RateLimit.Window != "1h" {
		t.Errorf("Window = %q, want 1h", cfg.RateLimit.Window)
	}
	if cfg.Authz.NoAccountRole != "newuser" {
		t.Errorf("NoAccountRole = %q, want newuser", cfg.Authz.NoAccountRole)
	}
}

func TestLoadYAMLConfigExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("IOTDASH_TEST_REDIS", "redis.internal:6379")

	path := filepath.Join(t.TempDir(), "iotdash.yaml")
	content := `
redis:
  addr: ${IOTDASH_TEST_REDIS}
ratelimit:
  default_limit: 42
authz:
  routes:
    - path: /api/health
      method: GET
      scope: public
    - path: /api/accounts/:accountId/devices
      method: GET
      scope: device:read
      limit: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Redis.Addr = %q, want expanded env value", cfg.Redis.Addr)
	}
	if cfg.RateLimit.DefaultLimit != 42 {
		t.Errorf("DefaultLimit = %d, want 42", cfg.RateLimit.DefaultLimit)
	}
	// Unset sections keep their defaults.
	if cfg.Auth.Algorithm != "RS256" {
		t.Errorf("Algorithm = %q, want default RS256", cfg.Auth.Algorithm)
	}
	if len(cfg.Authz.Routes) != 2 || cfg.Authz.Routes[1].Limit != 5 {
		t.Errorf("Routes = %+v, want two routes with limit 5 on the second", cfg.Authz.Routes)
	}
}

func TestLoadYAMLConfigMissingFile(t *testing.T) {
	if _, err := LoadYAMLConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iotdash.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration("", time.Minute)
	if err != nil || d != time.Minute {
		t.Errorf("Duration(\"\") = %v, %v; want fallback", d, err)
	}
	d, err = Duration("90s", time.Minute)
	if err != nil || d != 90*time.Second {
		t.Errorf("Duration(90s) = %v, %v", d, err)
	}
	if _, err := Duration("soon", time.Minute); err == nil {
		t.Error("expected error for invalid duration")
	}
}
