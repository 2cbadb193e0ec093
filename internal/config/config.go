// Package config loads the agent's tier policy and filesystem layout from a
// YAML file, and its secrets from the environment. The signing secret is
// deliberately env-only so it never lands in a config file next to the
// baseline it protects.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avekseev/fileguard/internal/model"
)

// Environment variables consumed by the agent.
const (
	EnvSecret      = "FILEGUARD_SECRET"
	EnvAlertURL    = "FILEGUARD_ALERT_URL"
	EnvDevMode     = "FILEGUARD_DEV"
	EnvDevOverride = "FILEGUARD_DEV_OK"
	EnvTuningAllow = "FILEGUARD_TUNING_ALLOW"
)

// ErrMissingSecret is returned when the HMAC signing secret is absent or
// empty. The agent fails closed: no secret, no monitoring.
var ErrMissingSecret = errors.New("config: signing secret missing (set " + EnvSecret + ")")

// Source is one entry of the tier policy table: a file, or a directory whose
// immediate children (and, with recurse, descendants) are protected.
type Source struct {
	Path       string   `yaml:"path"`
	Recurse    bool     `yaml:"recurse"`
	Extensions []string `yaml:"extensions"`
}

// Paths is the on-disk layout of the agent's own artifacts.
type Paths struct {
	Baseline   string `yaml:"baseline"`
	Backups    string `yaml:"backups"`
	Quarantine string `yaml:"quarantine"`
	Ledger     string `yaml:"ledger"`
}

// Watch tunes the filesystem watcher.
type Watch struct {
	DebounceMS        int `yaml:"debounce_ms"`
	StabilityWindowMS int `yaml:"stability_window_ms"`
	StabilityPollMS   int `yaml:"stability_poll_ms"`
}

// Backup tunes backup retention. Keep is the number of backups retained per
// original path after a snapshot; 0 means unlimited.
type Backup struct {
	Keep int `yaml:"keep"`
}

// Config holds all configurable agent parameters.
type Config struct {
	Protect         map[model.Tier][]Source `yaml:"protect"`
	Paths           Paths                   `yaml:"paths"`
	Watch           Watch                   `yaml:"watch"`
	Backup          Backup                  `yaml:"backup"`
	RescanIntervalS int                     `yaml:"rescan_interval_s"`
	ShutdownGraceMS int                     `yaml:"shutdown_grace_ms"`

	// Secret and AlertURL come from the environment, never from YAML.
	Secret   string `yaml:"-"`
	AlertURL string `yaml:"-"`
}

// Default returns the built-in configuration rooted under ~/.fileguard.
func Default() *Config {
	root := rootDir()
	return &Config{
		Protect: map[model.Tier][]Source{},
		Paths: Paths{
			Baseline:   filepath.Join(root, "baseline.json"),
			Backups:    filepath.Join(root, "backups"),
			Quarantine: filepath.Join(root, "quarantine"),
			Ledger:     filepath.Join(root, "ledger"),
		},
		Watch: Watch{
			DebounceMS:        150,
			StabilityWindowMS: 200,
			StabilityPollMS:   50,
		},
		Backup:          Backup{Keep: 5},
		RescanIntervalS: 60,
		ShutdownGraceMS: 1500,
	}
}

func rootDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fileguard"
	}
	return filepath.Join(home, ".fileguard")
}

// Load reads the YAML config at path. Empty path falls back to
// ~/.fileguard/config.yaml. A missing file returns defaults; invalid YAML is
// an error. Environment-sourced fields are filled from the process
// environment, and a missing signing secret fails the load.
func Load(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(rootDir(), "config.yaml")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.fromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fromEnv() error {
	c.Secret = strings.TrimSpace(os.Getenv(EnvSecret))
	if c.Secret == "" {
		return ErrMissingSecret
	}
	c.AlertURL = strings.TrimSpace(os.Getenv(EnvAlertURL))
	return nil
}

func (c *Config) validate() error {
	for tier := range c.Protect {
		switch tier {
		case model.TierCritical, model.TierHigh, model.TierMedium:
		default:
			return fmt.Errorf("config: unknown tier %q in protect table", tier)
		}
	}
	if c.Watch.DebounceMS <= 0 {
		c.Watch.DebounceMS = 150
	}
	if c.RescanIntervalS <= 0 {
		c.RescanIntervalS = 60
	}
	return nil
}

// Debounce returns the watcher debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// StabilityWindow returns how long a file's size/mtime must hold still
// before it is hashed.
func (c *Config) StabilityWindow() time.Duration {
	return time.Duration(c.Watch.StabilityWindowMS) * time.Millisecond
}

// StabilityPoll returns the poll interval used inside the stability wait.
func (c *Config) StabilityPoll() time.Duration {
	return time.Duration(c.Watch.StabilityPollMS) * time.Millisecond
}

// RescanInterval returns the periodic re-validation interval.
func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.RescanIntervalS) * time.Second
}

// ShutdownGrace returns the delay between dispatching the final alert and
// terminating the process.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMS) * time.Millisecond
}
