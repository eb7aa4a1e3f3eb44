// Package config loads ~/.chatsync/config.toml and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvAPIURL       = "CHATSYNC_API_URL"
	EnvWSURL        = "CHATSYNC_WS_URL"
	EnvFetchTimeout = "CHATSYNC_FETCH_TIMEOUT"
	EnvSession      = "CHATSYNC_SESSION"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Server         Server `toml:"server"`
	Sync           Sync   `toml:"sync"`
}

// Server locates the backend.
type Server struct {
	APIURL string `toml:"api_url"`
	WSURL  string `toml:"ws_url"`
}

// Sync tunes the sync engine and outbox.
type Sync struct {
	FetchTimeout      Duration `toml:"fetch_timeout"`
	OutboxInterval    Duration `toml:"outbox_interval"`
	OutboxMaxAttempts int      `toml:"outbox_max_attempts"`
}

// Duration is a time.Duration written as a string such as "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		Server: Server{
			APIURL: "http://localhost:8080",
			WSURL:  "ws://localhost:8080/ws",
		},
		Sync: Sync{
			FetchTimeout:      Duration{15 * time.Second},
			OutboxInterval:    Duration{5 * time.Second},
			OutboxMaxAttempts: 5,
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads path over the defaults. A missing file is not an
// error.
func LoadOrDefault(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads envFile, if it exists, into the process environment
// without overriding variables already set, then applies the CHATSYNC_*
// overrides to cfg.
func ApplyEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.Server.APIURL = v
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		cfg.Server.WSURL = v
	}
	if v := os.Getenv(EnvSession); v != "" {
		cfg.DefaultSession = v
	}
	if v := os.Getenv(EnvFetchTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			if secs, convErr := strconv.Atoi(v); convErr == nil {
				d, err = time.Duration(secs)*time.Second, nil
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFetchTimeout, err)
		}
		cfg.Sync.FetchTimeout = Duration{d}
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
