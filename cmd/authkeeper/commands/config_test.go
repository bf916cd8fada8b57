package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/florianilch/authkeeper/internal/app"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, `
log_format = "json"

[api]
base_url = "http://file.example:3000"
timeout = "10s"

[batch]
window = "25ms"
max_size = 4

[auth]
storage = "memory"

[data]
path = "`+filepath.ToSlash(filepath.Join(dir, "data.db"))+`"
`)

	environ := func() []string {
		return []string{
			"AUTHKEEPER_API__BASE_URL=http://env.example:3000",
			"AUTHKEEPER_SESSION__STORAGE_TIMEOUT=2s",
			"AUTHKEEPER_PASSWORD=never-config",
			"UNRELATED=1",
		}
	}

	cfg, err := loadConfig(path, nil, environ)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}

	if cfg.API.BaseURL != "http://env.example:3000" {
		t.Errorf("API.BaseURL = %q, env should override file", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Errorf("API.Timeout = %v, want 10s from file", cfg.API.Timeout)
	}
	if cfg.Batch.Window == nil || *cfg.Batch.Window != 25*time.Millisecond || cfg.Batch.MaxSize != 4 {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Session.StorageTimeout != 2*time.Second {
		t.Errorf("Session.StorageTimeout = %v, want 2s from env", cfg.Session.StorageTimeout)
	}
	if cfg.LogFormat != app.LogFormatJSON || cfg.Auth.Storage != app.TokenStorageTypeMemory {
		t.Errorf("LogFormat = %q, Auth.Storage = %q", cfg.LogFormat, cfg.Auth.Storage)
	}
	if cfg.API.Endpoint != app.DefaultConfigAPIEndpoint {
		t.Errorf("API.Endpoint = %q, want default", cfg.API.Endpoint)
	}
}

func TestLoadConfigZeroBatchWindow(t *testing.T) {
	path := writeConfigFile(t, `
[batch]
window = "0s"

[auth]
storage = "memory"

[data]
path = "`+filepath.ToSlash(filepath.Join(t.TempDir(), "data.db"))+`"
`)

	cfg, err := loadConfig(path, nil, func() []string { return nil })
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.Batch.Window == nil || *cfg.Batch.Window != 0 {
		t.Errorf("Batch.Window = %v, want explicit zero from file", cfg.Batch.Window)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	noEnv := func() []string { return nil }

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"), nil, noEnv); err == nil {
		t.Errorf("loadConfig() with missing file succeeded, want error")
	}

	invalid := writeConfigFile(t, `
[auth]
storage = "cloud"
`)
	if _, err := loadConfig(invalid, nil, noEnv); err == nil {
		t.Errorf("loadConfig() with unknown storage succeeded, want error")
	}
}
