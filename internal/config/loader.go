package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/taskforge/internal/scheduler"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskforge/config.json
// Project: .taskforge/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".taskforge", "config.json")
	projectPath := filepath.Join(".taskforge", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile decodes a JSON config file on top of base. Map entries
// (agents, workflows) are replaced per key; sections and fields absent from
// the file keep their current values.
func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks capability names, workflow step types and sizes.
func (c *Config) Validate() error {
	var errs []error

	for id, agent := range c.Agents {
		if _, err := scheduler.ParseCapabilities(agent.Capabilities); err != nil {
			errs = append(errs, fmt.Errorf("agent %q: %w", id, err))
		}
	}

	for name, wf := range c.Workflows {
		if len(wf.Steps) == 0 {
			errs = append(errs, fmt.Errorf("workflow %q has no steps", name))
		}
		steps := wf.Steps
		if wf.OnFailure != nil {
			steps = append(append([]WorkflowStepConfig(nil), steps...), *wf.OnFailure)
		}
		for i, step := range steps {
			if _, err := scheduler.ParseTaskType(step.Type); err != nil || strings.TrimSpace(step.Type) == "" {
				errs = append(errs, fmt.Errorf("workflow %q step %d: unknown task type %q", name, i, step.Type))
			}
			if _, err := scheduler.ParsePriority(step.Priority); err != nil {
				errs = append(errs, fmt.Errorf("workflow %q step %d: %w", name, i, err))
			}
		}
		if wf.MaxRecoveries < 0 {
			errs = append(errs, fmt.Errorf("workflow %q: max_recoveries must not be negative", name))
		}
	}

	if c.Pool.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pool.workers must be positive, got %d", c.Pool.Workers))
	}
	if c.Watchdog.Interval <= 0 {
		errs = append(errs, fmt.Errorf("watchdog.interval must be positive"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be at least 1, got %g", c.Retry.Multiplier))
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		errs = append(errs, fmt.Errorf("breaker.consecutive_failures must be positive"))
	}
	if c.Shell.Binary == "" {
		errs = append(errs, fmt.Errorf("shell.binary must be set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// AgentCapabilities returns every configured agent's parsed capability set.
func (c *Config) AgentCapabilities() (map[string]scheduler.Capability, error) {
	out := make(map[string]scheduler.Capability, len(c.Agents))
	for id, agent := range c.Agents {
		caps, err := scheduler.ParseCapabilities(agent.Capabilities)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", id, err)
		}
		out[id] = caps
	}
	return out, nil
}
