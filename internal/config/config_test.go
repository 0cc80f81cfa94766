package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/pixvault/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvPrefix+"DATA__DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Vault.Backend)
	assert.Equal(t, time.Hour, cfg.Session.Timeout)
	assert.Equal(t, uint32(3), cfg.Argon2.Time)
	assert.Equal(t, uint32(64*1024), cfg.Argon2.MemoryKiB)
	assert.Equal(t, uint8(4), cfg.Argon2.Threads)
	assert.Equal(t, model.AlgAES256GCM, cfg.Cipher.Algorithm)
	assert.Equal(t, "http://127.0.0.1:8188", cfg.ComfyUI.URL)
	assert.Equal(t, 300*time.Second, cfg.ComfyUI.Timeout)
	assert.Equal(t, 1024, cfg.Generation.Width)
	assert.Equal(t, 25, cfg.Generation.Steps)
	assert.Equal(t, "large", cfg.Generation.Model)

	assert.Equal(t, filepath.Join(cfg.DataDir, "vault"), cfg.Vault.Dir)
	assert.Equal(t, cfg.DataDir, cfg.Session.Dir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "pixvault.db"), cfg.Database.Path)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pixvault.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir = "`+filepath.ToSlash(dir)+`"

[session]
timeout = "30m"

[argon2]
time = 2
memory_kib = 32768
threads = 2

[cipher]
algorithm = "ChaCha20-Poly1305"

[generation]
model = "small"
width = 512
height = 512
`), 0o600))

	t.Setenv(EnvPrefix+"GENERATION_STEPS", "40")
	t.Setenv(EnvPrefix+"ARGON2_MEMORY__KIB", "16384")
	t.Setenv(EnvPrefix+"COMFYUI_TIMEOUT", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.FromSlash(cfg.DataDir))
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout)
	assert.Equal(t, uint32(2), cfg.Argon2.Time)
	assert.Equal(t, uint32(16384), cfg.Argon2.MemoryKiB)
	assert.Equal(t, model.AlgChaCha20Poly1305, cfg.Cipher.Algorithm)
	assert.Equal(t, "small", cfg.Generation.Model)
	assert.Equal(t, 512, cfg.Generation.Width)
	assert.Equal(t, 40, cfg.Generation.Steps)
	assert.Equal(t, 90*time.Second, cfg.ComfyUI.Timeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoad_InvalidFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"DATA__DIR", t.TempDir())
	t.Setenv(EnvPrefix+"VAULT_BACKEND", "ftp")

	_, err := Load("")
	require.ErrorContains(t, err, "vault.backend")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"s3 without bucket":    func(c *Config) { c.Vault.Backend = "s3" },
		"zero session":         func(c *Config) { c.Session.Timeout = 0 },
		"postgres without dsn": func(c *Config) { c.Database.Driver = "postgres" },
		"unknown driver":       func(c *Config) { c.Database.Driver = "mysql" },
		"zero argon2 memory":   func(c *Config) { c.Argon2.MemoryKiB = 0 },
		"unknown cipher":       func(c *Config) { c.Cipher.Algorithm = "DES" },
		"bad comfyui url":      func(c *Config) { c.ComfyUI.URL = "127.0.0.1:8188" },
		"odd width":            func(c *Config) { c.Generation.Width = 513 },
		"unknown model":        func(c *Config) { c.Generation.Model = "huge" },
		"zero failures":        func(c *Config) { c.Limiter.MaxFailures = 0 },
		"bad log level":        func(c *Config) { c.Log.Level = "trace" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			c.resolvePaths()
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}

	ok := Default()
	ok.Vault.Backend = "s3"
	ok.Vault.S3.Bucket = "art"
	ok.Database.Driver = "postgres"
	ok.Database.DSN = "postgres://localhost/pixvault"
	require.NoError(t, ok.Validate())
}
