package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes JSON as a string such
// as "30s" or "1m30s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// AgentConfig defines a worker identity and the capabilities it offers.
type AgentConfig struct {
	Capabilities []string `json:"capabilities"`          // Capability names, or "all"
	Description  string   `json:"description,omitempty"` // Shown in reports
}

// WorkflowStepConfig defines one step in a workflow pipeline.
type WorkflowStepConfig struct {
	Type     string `json:"type"`              // Task type of the step
	Command  string `json:"command,omitempty"` // Shell command; empty runs nothing
	Priority string `json:"priority,omitempty"`
}

// WorkflowConfig defines a pipeline of task types (e.g. build -> execute).
// A plan task that names the workflow gets the next step pushed when it
// completes, and a recovery step pushed when it fails.
type WorkflowConfig struct {
	Steps         []WorkflowStepConfig `json:"steps"`
	OnFailure     *WorkflowStepConfig  `json:"on_failure,omitempty"`
	MaxRecoveries int                  `json:"max_recoveries,omitempty"`
}

// QueueConfig configures the scheduler queue.
type QueueConfig struct {
	CascadeFailures bool `json:"cascade_failures"`
}

// PoolConfig sizes the background worker pool.
type PoolConfig struct {
	Workers int `json:"workers"`
}

// WatchdogConfig configures the timeout sweep.
type WatchdogConfig struct {
	Interval Duration `json:"interval"`
}

// RetryConfig configures exponential backoff for retryable executor errors.
type RetryConfig struct {
	InitialInterval     Duration `json:"initial_interval"`
	MaxInterval         Duration `json:"max_interval"`
	MaxElapsedTime      Duration `json:"max_elapsed_time"`
	Multiplier          float64  `json:"multiplier"`
	RandomizationFactor float64  `json:"randomization_factor"`
}

// BreakerConfig configures the per-task-type circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32   `json:"consecutive_failures"` // Failures before the breaker opens
	OpenTimeout         Duration `json:"open_timeout"`         // Time open before probing again
	HalfOpenRequests    uint32   `json:"half_open_requests"`   // Probes allowed while half-open
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// ShellConfig configures the command executor.
type ShellConfig struct {
	Binary string   `json:"binary"` // Shell used as "<binary> -c <command>"
	Env    []string `json:"env,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	Agents    map[string]AgentConfig    `json:"agents"`
	Workflows map[string]WorkflowConfig `json:"workflows"`
	Queue     QueueConfig               `json:"queue"`
	Pool      PoolConfig                `json:"pool"`
	Watchdog  WatchdogConfig            `json:"watchdog"`
	Retry     RetryConfig               `json:"retry"`
	Breaker   BreakerConfig             `json:"breaker"`
	Log       LogConfig                 `json:"log"`
	Shell     ShellConfig               `json:"shell"`
}
