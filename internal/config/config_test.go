package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Audit.MaxEntries != 200 {
		t.Fatalf("audit max = %d, want 200", cfg.Audit.MaxEntries)
	}
}

func TestLoadFromPathParsesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
database:
  driver: postgres
  dsn: postgres://localhost/progression
auth:
  jwt_secret: super-secret
  tokens: [dev-token]
  users:
    - username: admin
      password: pass
      role: admin
levels:
  settings_path: levels.yaml
  reload_schedule: "@every 10m"
rate_limit:
  enabled: true
  rps: 25
  burst: 50
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
	if len(cfg.Auth.Tokens) != 1 || cfg.Auth.Tokens[0] != "dev-token" {
		t.Fatalf("tokens = %v", cfg.Auth.Tokens)
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].Role != "admin" {
		t.Fatalf("users = %v", cfg.Auth.Users)
	}
	if cfg.Levels.ReloadSchedule != "@every 10m" {
		t.Fatalf("reload schedule = %q", cfg.Levels.ReloadSchedule)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RPS != 25 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROGRESSION_SERVER_PORT", "7070")
	t.Setenv("PROGRESSION_DB_DSN", "postgres://env/progression")
	t.Setenv("PROGRESSION_API_TOKENS", "tok-a, tok-b,")
	t.Setenv("PROGRESSION_LEVELS_PATH", "/etc/progression/levels.yaml")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("driver = %q, want postgres inferred from dsn", cfg.Database.Driver)
	}
	if len(cfg.Auth.Tokens) != 2 || cfg.Auth.Tokens[1] != "tok-b" {
		t.Fatalf("tokens = %v", cfg.Auth.Tokens)
	}
	if cfg.Levels.SettingsPath != "/etc/progression/levels.yaml" {
		t.Fatalf("settings path = %q", cfg.Levels.SettingsPath)
	}
}

func TestDatabaseURLFallback(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://fallback/progression")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "postgres://fallback/progression" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: -1\n"},
		{"driver without dsn", "database:\n  driver: postgres\n"},
		{"rate limit without rps", "rate_limit:\n  enabled: true\n  rps: 0\n"},
		{"user without password", "auth:\n  jwt_secret: s\n  users:\n    - username: admin\n"},
		{"users without secret", "auth:\n  users:\n    - username: admin\n      password: pass\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// A DATABASE_URL in the developer's shell would fill the dsn.
			t.Setenv("DATABASE_URL", "")
			path := writeConfig(t, tc.body)
			if _, err := LoadFromPath(path); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}
