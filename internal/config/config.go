// Package config loads the immutable runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/and161185/pixvault/internal/model"
)

// EnvPrefix prefixes every environment override, e.g. PIXVAULT_COMFYUI_URL.
const EnvPrefix = "PIXVAULT_"

// Config is built once at startup and passed by value to constructors.
type Config struct {
	DataDir    string           `koanf:"data_dir"`
	Vault      VaultConfig      `koanf:"vault"`
	Session    SessionConfig    `koanf:"session"`
	Database   DatabaseConfig   `koanf:"database"`
	Argon2     Argon2Config     `koanf:"argon2"`
	Cipher     CipherConfig     `koanf:"cipher"`
	ComfyUI    ComfyUIConfig    `koanf:"comfyui"`
	Generation GenerationConfig `koanf:"generation"`
	Limiter    LimiterConfig    `koanf:"limiter"`
	Log        LogConfig        `koanf:"log"`
}

type VaultConfig struct {
	Backend string   `koanf:"backend"` // local or s3
	Dir     string   `koanf:"dir"`
	S3      S3Config `koanf:"s3"`
}

type S3Config struct {
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint"`
	Prefix    string `koanf:"prefix"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

type SessionConfig struct {
	Dir     string        `koanf:"dir"`
	Timeout time.Duration `koanf:"timeout"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite or postgres
	Path   string `koanf:"path"`
	DSN    string `koanf:"dsn"`
}

type Argon2Config struct {
	Time      uint32 `koanf:"time"`
	MemoryKiB uint32 `koanf:"memory_kib"`
	Threads   uint8  `koanf:"threads"`
}

type CipherConfig struct {
	Algorithm string `koanf:"algorithm"`
}

type ComfyUIConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type GenerationConfig struct {
	Width    int     `koanf:"width"`
	Height   int     `koanf:"height"`
	Steps    int     `koanf:"steps"`
	CFGScale float64 `koanf:"cfg_scale"`
	Model    string  `koanf:"model"`
}

type LimiterConfig struct {
	Window      time.Duration `koanf:"window"`
	MaxFailures int           `koanf:"max_failures"`
	BlockFor    time.Duration `koanf:"block_for"`
}

type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

// Load merges defaults, the optional TOML file at path and PIXVAULT_*
// environment variables, in that order of precedence from low to high.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// __ keeps a literal underscore, _ nests: PIXVAULT_ARGON2_MEMORY__KIB -> argon2.memory_kib
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		s = strings.ReplaceAll(s, "_", ".")
		return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           &cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration. Directory fields left empty are
// placed under DataDir by Load.
func Default() Config {
	dataDir := ".pixvault"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".pixvault")
	}
	return Config{
		DataDir: dataDir,
		Vault: VaultConfig{
			Backend: "local",
			S3:      S3Config{Region: "us-east-1", Prefix: "vault"},
		},
		Session:  SessionConfig{Timeout: time.Hour},
		Database: DatabaseConfig{Driver: "sqlite"},
		Argon2:   Argon2Config{Time: 3, MemoryKiB: 64 * 1024, Threads: 4},
		Cipher:   CipherConfig{Algorithm: model.AlgAES256GCM},
		ComfyUI: ComfyUIConfig{
			URL:     "http://127.0.0.1:8188",
			Timeout: 300 * time.Second,
		},
		Generation: GenerationConfig{
			Width:    1024,
			Height:   1024,
			Steps:    25,
			CFGScale: 7.0,
			Model:    "large",
		},
		Limiter: LimiterConfig{
			Window:      15 * time.Minute,
			MaxFailures: 5,
			BlockFor:    15 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

func (c *Config) resolvePaths() {
	if c.Vault.Dir == "" {
		c.Vault.Dir = filepath.Join(c.DataDir, "vault")
	}
	if c.Session.Dir == "" {
		c.Session.Dir = c.DataDir
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "pixvault.db")
	}
}

var (
	validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validModels = map[string]bool{"small": true, "medium": true, "large": true}
)

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}

	switch c.Vault.Backend {
	case "local":
	case "s3":
		if c.Vault.S3.Bucket == "" {
			return errors.New("vault.s3.bucket is required for the s3 backend")
		}
		if c.Vault.S3.Region == "" {
			return errors.New("vault.s3.region is required for the s3 backend")
		}
	default:
		return fmt.Errorf("vault.backend must be 'local' or 's3', got: %s", c.Vault.Backend)
	}

	if c.Session.Timeout <= 0 {
		return fmt.Errorf("invalid session.timeout: %s", c.Session.Timeout)
	}

	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be 'sqlite' or 'postgres', got: %s", c.Database.Driver)
	}

	if c.Argon2.Time == 0 || c.Argon2.MemoryKiB == 0 || c.Argon2.Threads == 0 {
		return fmt.Errorf("argon2 cost parameters must be positive: %+v", c.Argon2)
	}

	if c.Cipher.Algorithm != model.AlgAES256GCM && c.Cipher.Algorithm != model.AlgChaCha20Poly1305 {
		return fmt.Errorf("invalid cipher.algorithm: %s", c.Cipher.Algorithm)
	}

	if !strings.HasPrefix(c.ComfyUI.URL, "http://") && !strings.HasPrefix(c.ComfyUI.URL, "https://") {
		return fmt.Errorf("invalid comfyui.url: %q", c.ComfyUI.URL)
	}
	if c.ComfyUI.Timeout <= 0 {
		return fmt.Errorf("invalid comfyui.timeout: %s", c.ComfyUI.Timeout)
	}

	g := c.Generation
	if g.Width <= 0 || g.Height <= 0 || g.Width%8 != 0 || g.Height%8 != 0 {
		return fmt.Errorf("generation size must be positive multiples of 8, got %dx%d", g.Width, g.Height)
	}
	if g.Steps <= 0 {
		return fmt.Errorf("invalid generation.steps: %d", g.Steps)
	}
	if g.CFGScale <= 0 {
		return fmt.Errorf("invalid generation.cfg_scale: %v", g.CFGScale)
	}
	if !validModels[g.Model] {
		return fmt.Errorf("generation.model must be small, medium or large, got: %s", g.Model)
	}

	if c.Limiter.MaxFailures <= 0 || c.Limiter.Window <= 0 || c.Limiter.BlockFor <= 0 {
		return fmt.Errorf("limiter settings must be positive: %+v", c.Limiter)
	}

	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	return nil
}
