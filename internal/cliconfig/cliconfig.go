// Package cliconfig is the process-level configuration layer for
// cmd/solostack: log level/format, base directory, and the demo sync URL,
// read with the teacher's env > config-file > built-in-default priority
// (internal/syncconfig/syncconfig.go). This is distinct from the kernel's
// own Settings table (§3, §6) — that configures synchronized state;
// this configures the local process.
package cliconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the on-disk shape of ~/.config/solostack/config.json.
type Config struct {
	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`
	BaseDir   string `json:"base_dir,omitempty"`
	SyncURL   string `json:"sync_url,omitempty"`
}

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
)

// ConfigDir returns ~/.config/solostack, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "solostack")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the config file, returning an empty Config if it doesn't exist.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	return &cfg, nil
}

// GetLogLevel returns the slog level name. Priority: SOLOSTACK_LOG_LEVEL
// env > config.json log_level > "info".
func GetLogLevel() string {
	if v := os.Getenv("SOLOSTACK_LOG_LEVEL"); v != "" {
		return v
	}
	if cfg, err := Load(); err == nil && cfg.LogLevel != "" {
		return cfg.LogLevel
	}
	return defaultLogLevel
}

// GetLogFormat returns "json" or "text". Priority: SOLOSTACK_LOG_FORMAT
// env > config.json log_format > "json".
func GetLogFormat() string {
	if v := os.Getenv("SOLOSTACK_LOG_FORMAT"); v != "" {
		return v
	}
	if cfg, err := Load(); err == nil && cfg.LogFormat != "" {
		return cfg.LogFormat
	}
	return defaultLogFormat
}

// GetBaseDir returns the directory the store lives under. Priority:
// SOLOSTACK_BASE_DIR env > config.json base_dir > current working directory.
func GetBaseDir() string {
	if v := os.Getenv("SOLOSTACK_BASE_DIR"); v != "" {
		return v
	}
	if cfg, err := Load(); err == nil && cfg.BaseDir != "" {
		return cfg.BaseDir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// GetSyncURL returns the configured transport endpoint, or "" if unset
// (local-only, §6: "clearing both reverts to local-only"). Priority:
// SOLOSTACK_SYNC_URL env > config.json sync_url > "". No HTTP transport
// ships in this module (§1 scopes the physical client out); this accessor
// exists so a caller supplying its own Transport has somewhere standard to
// read the endpoint from.
func GetSyncURL() string {
	if v := os.Getenv("SOLOSTACK_SYNC_URL"); v != "" {
		return v
	}
	if cfg, err := Load(); err == nil && cfg.SyncURL != "" {
		return cfg.SyncURL
	}
	return ""
}
