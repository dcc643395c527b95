package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-based configuration for drivesync.
type Config struct {
	// Directory holding the vault to sync. Required.
	VaultDir string `env:"VAULT_DIR"`

	// Drive API endpoint and bearer token. Required.
	DriveBaseURL string `env:"DRIVE_BASE_URL"`
	DriveToken   string `env:"DRIVE_TOKEN"`

	// Device name this client identifies as. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// SyncBatchSize bounds how many transfers run at once. Batches are
	// sequential: the next batch starts only when the previous one has
	// fully resolved.
	SyncBatchSize int `env:"SYNC_BATCH_SIZE" envDefault:"5"`

	// PatchDriftLines is the line-drift tolerance when reapplying diffs.
	PatchDriftLines int `env:"PATCH_DRIFT_LINES" envDefault:"5"`

	// ChecksumCacheSize caps the in-process checksum memo.
	ChecksumCacheSize int `env:"CHECKSUM_CACHE_SIZE" envDefault:"4096"`

	// SettingsFile points at the YAML settings file with exclusion
	// rules. Defaults to <vault>/.drivesync/settings.yaml.
	SettingsFile string `env:"SYNC_SETTINGS_FILE"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the Drive token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "drivesync"
		}

		cfg.DeviceName = hostname
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve VaultDir to an absolute path at startup. Downstream path
	// traversal checks compare string prefixes, which only works
	// reliably with absolute paths.
	absDir, err := filepath.Abs(cfg.VaultDir)
	if err != nil {
		return nil, fmt.Errorf("resolving vault dir to absolute path: %w", err)
	}
	cfg.VaultDir = absDir

	if cfg.SettingsFile == "" {
		cfg.SettingsFile = filepath.Join(cfg.VaultDir, ".drivesync", "settings.yaml")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.VaultDir == "" {
		return fmt.Errorf("VAULT_DIR is required")
	}

	if c.DriveBaseURL == "" {
		return fmt.Errorf("DRIVE_BASE_URL is required")
	}

	if c.DriveToken == "" {
		return fmt.Errorf("DRIVE_TOKEN is required")
	}

	if c.SyncBatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be at least 1")
	}

	if c.PatchDriftLines < 0 {
		return fmt.Errorf("PATCH_DRIFT_LINES must not be negative")
	}

	if c.ChecksumCacheSize < 1 {
		return fmt.Errorf("CHECKSUM_CACHE_SIZE must be at least 1")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Settings holds per-vault sync settings read from the settings file.
type Settings struct {
	// Exclude lists doublestar glob patterns of vault-relative paths
	// that are never synced.
	Exclude []string `yaml:"exclude"`
}

// alwaysExcluded are vault-relative directory prefixes the sync never
// touches regardless of user settings: our own metadata directory and
// the local trash.
var alwaysExcluded = []string{".drivesync", ".trash"}

// LoadSettings reads the settings file at path. A missing file is not an
// error: it yields empty settings.
func LoadSettings(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	settings := &Settings{}
	if err := yaml.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}

	for _, pattern := range settings.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	return settings, nil
}

// ExcludePredicate compiles the settings into a predicate over slash
// separated vault-relative paths. The sync core consumes the predicate
// and never interprets glob syntax itself.
func (s *Settings) ExcludePredicate() func(relPath string) bool {
	patterns := make([]string, len(s.Exclude))
	copy(patterns, s.Exclude)

	return func(relPath string) bool {
		relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "/")

		for _, prefix := range alwaysExcluded {
			if relPath == prefix || strings.HasPrefix(relPath, prefix+"/") {
				return true
			}
		}

		for _, pattern := range patterns {
			// Patterns validated at load time, so Match cannot fail.
			if ok, _ := doublestar.Match(pattern, relPath); ok {
				return true
			}
		}

		return false
	}
}
