package config

import "time"

// DefaultConfig returns the default configuration with built-in agents and workflows.
func DefaultConfig() *Config {
	return &Config{
		Agents: map[string]AgentConfig{
			"builder": {
				Capabilities: []string{"build", "install", "execute", "write", "network"},
				Description:  "Compiles, installs dependencies and runs build steps.",
			},
			"maintainer": {
				Capabilities: []string{"fix", "modify", "analyze", "write"},
				Description:  "Applies fixes and edits to the project tree.",
			},
			"analyst": {
				Capabilities: []string{"analyze", "query"},
				Description:  "Read-only inspection and queries.",
			},
		},
		Workflows: map[string]WorkflowConfig{
			"standard": {
				Steps: []WorkflowStepConfig{
					{Type: "build"},
					{Type: "execute"},
				},
				OnFailure:     &WorkflowStepConfig{Type: "fix"},
				MaxRecoveries: 1,
			},
		},
		Queue: QueueConfig{CascadeFailures: false},
		Pool:  PoolConfig{Workers: 4},
		Watchdog: WatchdogConfig{
			Interval: Duration(time.Second),
		},
		Retry: RetryConfig{
			InitialInterval:     Duration(100 * time.Millisecond),
			MaxInterval:         Duration(10 * time.Second),
			MaxElapsedTime:      Duration(2 * time.Minute),
			Multiplier:          2.0,
			RandomizationFactor: 0.5,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         Duration(30 * time.Second),
			HalfOpenRequests:    3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Shell: ShellConfig{
			Binary: "sh",
		},
	}
}
