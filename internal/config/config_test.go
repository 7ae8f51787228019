package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"workspace": "/tmp/onyesha-test",
		"server": {"listen_addr": ":9090"},
		"ports": {"start": 6000, "end": 6100},
		"runtime": {"driver": "docker", "max_memory_mb": 1024}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workspace != "/tmp/onyesha-test" {
		t.Errorf("workspace = %q", cfg.Workspace)
	}
	if cfg.Server.Addr() != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if start, end := cfg.Ports.Range(); start != 6000 || end != 6100 {
		t.Errorf("port range = [%d, %d]", start, end)
	}
	if cfg.Runtime.RuntimeDriver() != "docker" {
		t.Errorf("runtime driver = %q", cfg.Runtime.RuntimeDriver())
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  listen_addr: ":7070"
preview:
  max_active: 5
  monitor_interval_seconds: 10
cleanup:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr() != ":7070" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Preview.MaxActive != 5 {
		t.Errorf("max_active = %d", cfg.Preview.MaxActive)
	}
	if cfg.Preview.MonitorInterval() != 10*time.Second {
		t.Errorf("monitor interval = %s", cfg.Preview.MonitorInterval())
	}
	if cfg.Cleanup.CleanupEnabled() {
		t.Error("cleanup.enabled: false was ignored")
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}

	if cfg.Server.Addr() != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if start, end := cfg.Ports.Range(); start != 4000 || end != 5000 {
		t.Errorf("port range = [%d, %d]", start, end)
	}
	if cfg.Storage.StorageDriver() != "sqlite" {
		t.Errorf("storage driver = %q", cfg.Storage.StorageDriver())
	}
	if cfg.Runtime.RuntimeDriver() != "cli" {
		t.Errorf("runtime driver = %q", cfg.Runtime.RuntimeDriver())
	}
	if cfg.Runtime.BuildTimeout() != 5*time.Minute {
		t.Errorf("build timeout = %s", cfg.Runtime.BuildTimeout())
	}
	if !cfg.Cleanup.CleanupEnabled() {
		t.Error("cleanup disabled by default")
	}
	if cfg.Cleanup.IdleAfter() != 30*time.Minute {
		t.Errorf("idle_after = %s", cfg.Cleanup.IdleAfter())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad storage driver",
			content: `{"storage": {"driver": "mysql"}}`,
			wantErr: "storage.driver",
		},
		{
			name:    "postgres without dsn",
			content: `{"storage": {"driver": "postgres"}}`,
			wantErr: "storage.postgres.dsn",
		},
		{
			name:    "bad runtime driver",
			content: `{"runtime": {"driver": "podman"}}`,
			wantErr: "runtime.driver",
		},
		{
			name:    "inverted port range",
			content: `{"ports": {"start": 5000, "end": 4000}}`,
			wantErr: "ports.end",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "config.json", tc.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ONYESHA_WORKSPACE", "/srv/onyesha")
	t.Setenv("ONYESHA_API_TOKEN", "secret-token")
	t.Setenv("ONYESHA_DB_DSN", "postgres://localhost/onyesha")

	path := writeConfig(t, "config.json", `{"workspace": "/tmp/from-file"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workspace != "/srv/onyesha" {
		t.Errorf("workspace = %q, want env override", cfg.Workspace)
	}
	if cfg.Server.APIToken != "secret-token" {
		t.Errorf("api token = %q", cfg.Server.APIToken)
	}
	if cfg.Storage == nil || cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN != "postgres://localhost/onyesha" {
		t.Error("ONYESHA_DB_DSN override not applied")
	}
}
