package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cashfity/pkg/storage"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "CASHFITY_DB_PATH", "CASHFITY_CATALOG"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cashfity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
port: 9000
catalog: https://example.com/devices.json
log_level: debug
storage:
  type: memory
  path: /var/lib/cashfity/carts.json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "https://example.com/devices.json", cfg.Catalog)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, storage.Config{Type: storage.TypeMemory, Path: "/var/lib/cashfity/carts.json"}, cfg.Storage)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "port: 9000\ncatalog: a.json\n")
	t.Setenv("PORT", "9100")
	t.Setenv("CASHFITY_DB_PATH", "/tmp/carts.db")
	t.Setenv("CASHFITY_CATALOG", "b.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/tmp/carts.db", cfg.Storage.Path)
	assert.Equal(t, "b.json", cfg.Catalog)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		clearEnv(t)
		_, err := LoadConfig(writeConfig(t, "port: [nope"))
		assert.Error(t, err)
	})
	t.Run("bad PORT", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PORT", "eighty")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "PORT")
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*Config){
		"port too large":  func(c *Config) { c.Port = 70000 },
		"negative port":   func(c *Config) { c.Port = -1 },
		"unknown db type": func(c *Config) { c.Storage.Type = "postgres" },
		"empty catalog":   func(c *Config) { c.Catalog = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
