// Package config loads agent configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config captures everything the sync agent needs to run.
type Config struct {
	DataDir       string
	ListenAddr    string
	APIBaseURL    string
	SyncInterval  time.Duration
	ReplayTimeout time.Duration
	MaxRetries    int
	LogLevel      string
}

const (
	defaultConfigPath = "~/.config/taskdeck/clientsync.toml"
	defaultDataDir    = "~/.local/share/taskdeck"
	defaultListenAddr = "127.0.0.1:8090"
	defaultAPIBaseURL = "https://app.taskdeck.io"
	defaultLogLevel   = "info"

	defaultSyncIntervalSeconds  = 60
	defaultReplayTimeoutSeconds = 120
	defaultMaxRetries           = 3
)

// rawConfig mirrors the TOML file shape.
type rawConfig struct {
	DataDir              string `toml:"data_dir"`
	ListenAddr           string `toml:"listen_addr"`
	APIBaseURL           string `toml:"api_base_url"`
	SyncIntervalSeconds  int    `toml:"sync_interval_seconds"`
	ReplayTimeoutSeconds int    `toml:"replay_timeout_seconds"`
	MaxRetries           int    `toml:"max_retries"`
	LogLevel             string `toml:"log_level"`
}

// Load parses the config file at path, falling back to defaults when the
// file is missing or a field is unset. An empty path uses the default
// location.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := defaults()

	if dir := strings.TrimSpace(raw.DataDir); dir != "" {
		cfg.DataDir = mustExpand(dir)
	}
	if addr := strings.TrimSpace(raw.ListenAddr); addr != "" {
		cfg.ListenAddr = addr
	}
	if base := strings.TrimSpace(raw.APIBaseURL); base != "" {
		cfg.APIBaseURL = base
	}
	if raw.SyncIntervalSeconds > 0 {
		cfg.SyncInterval = time.Duration(raw.SyncIntervalSeconds) * time.Second
	}
	if raw.ReplayTimeoutSeconds > 0 {
		cfg.ReplayTimeout = time.Duration(raw.ReplayTimeoutSeconds) * time.Second
	}
	if raw.MaxRetries > 0 {
		cfg.MaxRetries = raw.MaxRetries
	}
	if level := strings.TrimSpace(raw.LogLevel); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		DataDir:       mustExpand(defaultDataDir),
		ListenAddr:    defaultListenAddr,
		APIBaseURL:    defaultAPIBaseURL,
		SyncInterval:  defaultSyncIntervalSeconds * time.Second,
		ReplayTimeout: defaultReplayTimeoutSeconds * time.Second,
		MaxRetries:    defaultMaxRetries,
		LogLevel:      defaultLogLevel,
	}
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
