package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"nexus/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Fetch.Timeout != 15*time.Second || cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadOverridesAndFillsZeroes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
dataDir: ` + dir + `
storage:
  driver: postgres
  dsn: postgres://localhost/nexus
fetch:
  timeout: 3s
  headers:
    Authorization: Bearer x
viewer:
  tenantId: acme
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Fetch.Timeout != 3*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Fetch.Headers["Authorization"] != "Bearer x" || cfg.Viewer.TenantID != "acme" {
		t.Errorf("nested = %+v", cfg)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond || cfg.Viewer.Locale != "en-US" {
		t.Errorf("zero values should be filled: %+v", cfg)
	}
	if cfg.SQLiteDSN() != "postgres://localhost/nexus" {
		t.Errorf("dsn = %s", cfg.SQLiteDSN())
	}
}

func TestSQLiteDSNDefaultsUnderDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = "/tmp/nx"
	if got := cfg.SQLiteDSN(); got != filepath.Join("/tmp/nx", "nexus.db") {
		t.Errorf("dsn = %s", got)
	}
	cfg.Storage.Driver = "mongo"
	cfg.Storage.DSN = "mongodb://localhost/nexus"
	if got := cfg.SQLiteDSN(); got != filepath.Join("/tmp/nx", "nexus.db") {
		t.Errorf("mongo history dsn = %s", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := config.Default()
	cfg.Viewer.Timezone = "America/Sao_Paulo"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Viewer.Timezone != "America/Sao_Paulo" || got.Fetch.Timeout != cfg.Fetch.Timeout {
		t.Errorf("round trip = %+v", got)
	}
}

func TestDefaultPathHonoursEnv(t *testing.T) {
	t.Setenv(config.EnvPath, "/etc/nexus.yaml")
	if got := config.DefaultPath(); got != "/etc/nexus.yaml" {
		t.Errorf("path = %s", got)
	}
}
