// Package config loads and validates the project configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cellexec/overstory/internal/constants"
)

var (
	// ErrNotFound indicates the config file does not exist.
	ErrNotFound = errors.New("config file not found")

	// ErrInvalid indicates the config failed validation.
	ErrInvalid = errors.New("invalid config")
)

// FileName is the config file under .overstory/.
const FileName = "config.yaml"

// Config is the operator configuration for a project.
type Config struct {
	// CanonicalBranch is the branch merges land on.
	CanonicalBranch string `yaml:"canonical_branch"`

	// MaxDepth bounds the spawn hierarchy. Agents at depth >= MaxDepth-1
	// cannot spawn.
	MaxDepth int `yaml:"max_depth"`

	// StaggerDelayMs is the wait between session creation and sending the
	// task beacon.
	StaggerDelayMs int `yaml:"stagger_delay_ms"`

	Watchdog WatchdogConfig `yaml:"watchdog"`
	Merge    MergeConfig    `yaml:"merge"`
	Agent    AgentConfig    `yaml:"agent"`
}

// WatchdogConfig tunes the health scanner.
type WatchdogConfig struct {
	IntervalMs       int `yaml:"interval_ms"`
	StaleThresholdMs int `yaml:"stale_threshold_ms"`
	ZombieThresholdMs int `yaml:"zombie_threshold_ms"`
}

// MergeConfig gates the upper resolver tiers and carries prompt templates.
type MergeConfig struct {
	AIResolveEnabled bool `yaml:"ai_resolve"`
	ReimagineEnabled bool `yaml:"reimagine"`

	// ResolvePrompt and ReimaginePrompt override the built-in tier 3/4
	// prompt templates. Empty means use the defaults.
	ResolvePrompt   string `yaml:"resolve_prompt"`
	ReimaginePrompt string `yaml:"reimagine_prompt"`
}

// AgentConfig describes how worker sessions are launched.
type AgentConfig struct {
	// Command is the assistant CLI argv launched inside each session.
	Command []string `yaml:"command"`

	// OneShotCommand is the assistant CLI argv for non-interactive prompts
	// (tier 3/4 resolution, watchdog triage). Stdin carries the prompt,
	// stdout carries the completion.
	OneShotCommand []string `yaml:"oneshot_command"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CanonicalBranch: constants.DefaultCanonicalBranch,
		MaxDepth:        3,
		StaggerDelayMs:  int(constants.DefaultStaggerDelay / time.Millisecond),
		Watchdog: WatchdogConfig{
			IntervalMs:        30_000,
			StaleThresholdMs:  300_000,
			ZombieThresholdMs: 600_000,
		},
		Merge: MergeConfig{
			AIResolveEnabled: true,
			ReimagineEnabled: true,
		},
		Agent: AgentConfig{
			Command:        []string{"claude", "--dangerously-skip-permissions"},
			OneShotCommand: []string{"claude", "--print"},
		},
	}
}

// Path returns the config file path for a project root.
func Path(root string) string {
	return filepath.Join(root, constants.StateDir, FileName)
}

// Load reads the config for a project root, applying defaults for any
// field the file omits. A missing file returns the defaults.
func Load(root string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(root)) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a project root.
func Save(root string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	path := Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if c.CanonicalBranch == "" {
		return fmt.Errorf("%w: canonical_branch is empty", ErrInvalid)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth must be >= 1 (got %d)", ErrInvalid, c.MaxDepth)
	}
	if c.Watchdog.IntervalMs <= 0 {
		return fmt.Errorf("%w: watchdog.interval_ms must be positive", ErrInvalid)
	}
	if c.Watchdog.ZombieThresholdMs <= c.Watchdog.StaleThresholdMs {
		return fmt.Errorf("%w: watchdog.zombie_threshold_ms (%d) must exceed stale_threshold_ms (%d)",
			ErrInvalid, c.Watchdog.ZombieThresholdMs, c.Watchdog.StaleThresholdMs)
	}
	if len(c.Agent.Command) == 0 {
		return fmt.Errorf("%w: agent.command is empty", ErrInvalid)
	}
	if len(c.Agent.OneShotCommand) == 0 {
		return fmt.Errorf("%w: agent.oneshot_command is empty", ErrInvalid)
	}
	return nil
}

// StaggerDelay returns the beacon delay as a duration.
func (c *Config) StaggerDelay() time.Duration {
	return time.Duration(c.StaggerDelayMs) * time.Millisecond
}

// Interval returns the watchdog scan interval.
func (w WatchdogConfig) Interval() time.Duration {
	return time.Duration(w.IntervalMs) * time.Millisecond
}

// StaleThreshold returns the staleness cutoff.
func (w WatchdogConfig) StaleThreshold() time.Duration {
	return time.Duration(w.StaleThresholdMs) * time.Millisecond
}

// ZombieThreshold returns the zombie cutoff.
func (w WatchdogConfig) ZombieThreshold() time.Duration {
	return time.Duration(w.ZombieThresholdMs) * time.Millisecond
}
