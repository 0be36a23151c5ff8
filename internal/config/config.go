package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.habitate/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	APIBaseURL     string `toml:"api_base_url"`

	Sync SyncConfig `toml:"sync"`
}

// SyncConfig holds background sync engine tuning.
type SyncConfig struct {
	// Interval between dispatcher passes.
	Interval duration `toml:"interval"`
	// MaxRetries is how many failed attempts a queued operation gets
	// before it is quarantined as failed.
	MaxRetries int `toml:"max_retries"`
	// BackoffBase is the delay before the first retry; it doubles per attempt.
	BackoffBase duration `toml:"backoff_base"`
	// BackoffCap bounds the per-record retry delay.
	BackoffCap duration `toml:"backoff_cap"`
	// RequeueFailedOnStart re-enqueues quarantined operations when the
	// daemon starts. Failed operations are otherwise only retried via an
	// explicit requeue.
	RequeueFailedOnStart bool `toml:"requeue_failed_on_start"`
}

// duration wraps time.Duration with TOML text encoding ("30s", "15m").
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the config used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "default",
		APIBaseURL:     "https://api.habitate.app",
		Sync: SyncConfig{
			Interval:    duration(15 * time.Minute),
			MaxRetries:  3,
			BackoffBase: duration(30 * time.Second),
			BackoffCap:  duration(10 * time.Minute),
		},
	}
}

// Load reads config from the given path, applying defaults for missing keys.
// Returns an error if the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
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
