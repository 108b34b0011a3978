package config

import (
	"fmt"
	"time"
)

// Error reports an invalid configuration. Validation happens before
// any worker is spawned.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
	return "config: " + e.Msg
}

func errf(field, format string, args ...any) *Error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ApplyDefaults fills unset values with operational defaults.
func (c *JobConfig) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "v1"
	}
	if c.BaseDir == "" {
		c.BaseDir = "projects"
	}
	if c.WorkerBinary == "" {
		c.WorkerBinary = "sluice-worker"
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = 4
	}
	if c.Workers.BatchSize == 0 {
		c.Workers.BatchSize = 10
	}
	if c.Workers.CheckpointInterval == 0 {
		c.Workers.CheckpointInterval = 50
	}
	if c.Workers.MaxRetries == nil {
		// nil means unset; an explicit max_retries: 0 stands.
		retries := 3
		c.Workers.MaxRetries = &retries
	}
	if c.Workers.RetryDelay.Duration == 0 {
		c.Workers.RetryDelay.Duration = 5 * time.Second
	}
	if c.Workers.PausePoll.Duration == 0 {
		c.Workers.PausePoll.Duration = 2 * time.Second
	}
	if c.Workers.StallTimeout.Duration == 0 {
		c.Workers.StallTimeout.Duration = 2 * time.Minute
	}
	if c.Workers.FailureStrategy == "" {
		c.Workers.FailureStrategy = "continue"
	}
	if c.Workers.MaxSpawnRetries == 0 {
		c.Workers.MaxSpawnRetries = 2
	}
	if c.Merge.Condition == "" {
		c.Merge.Condition = MergeAllSuccess
	}
	if c.Model.Timeout.Duration == 0 {
		c.Model.Timeout.Duration = 2 * time.Minute
	}
}

// Validate checks the config. Returns *Error on the first problem.
func (c *JobConfig) Validate() error {
	if c.Project == "" {
		return errf("project", "must be set")
	}
	if c.Model.Name == "" {
		return errf("model.name", "must be set")
	}
	if c.Model.Endpoint == "" {
		return errf("model.endpoint", "must be set")
	}
	if len(c.Inputs) == 0 {
		return errf("inputs", "at least one input file is required")
	}

	labels := make(map[string]bool, len(c.Inputs))
	for i, in := range c.Inputs {
		field := fmt.Sprintf("inputs[%d]", i)
		if in.Label == "" {
			return errf(field+".label", "must be set")
		}
		if labels[in.Label] {
			return errf(field+".label", "duplicate label %q", in.Label)
		}
		labels[in.Label] = true
		if in.Path == "" {
			return errf(field+".path", "must be set")
		}
		switch in.Strategy {
		case "", "auto":
			if len(in.Ranges) > 0 {
				return errf(field+".ranges", "ranges require strategy: manual")
			}
		case "manual":
			if len(in.Ranges) == 0 {
				return errf(field+".ranges", "manual strategy requires ranges")
			}
		default:
			return errf(field+".strategy", "unknown strategy %q", in.Strategy)
		}
	}

	if err := c.Prompt.Validate(); err != nil {
		return errf("prompt", "%v", err)
	}

	if c.Workers.Count < 1 {
		return errf("workers.count", "must be >= 1, got %d", c.Workers.Count)
	}
	if c.Workers.BatchSize < 1 {
		return errf("workers.batch_size", "must be >= 1, got %d", c.Workers.BatchSize)
	}
	if c.Workers.CheckpointInterval < 1 {
		return errf("workers.checkpoint_interval", "must be >= 1, got %d", c.Workers.CheckpointInterval)
	}
	if c.Workers.MaxRetries != nil && *c.Workers.MaxRetries < 0 {
		return errf("workers.max_retries", "must be >= 0, got %d", *c.Workers.MaxRetries)
	}
	switch c.Workers.FailureStrategy {
	case "continue", "abort":
	default:
		return errf("workers.failure_strategy", "must be continue or abort, got %q", c.Workers.FailureStrategy)
	}

	switch c.Merge.Condition {
	case MergeAllSuccess, MergeAnySuccess, MergeAlways:
	default:
		return errf("merge.condition", "must be all_success, any_success, or always, got %q", c.Merge.Condition)
	}

	if c.Notify != nil {
		switch c.Notify.Type {
		case "webhook", "redis":
		default:
			return errf("notify.type", "must be webhook or redis, got %q", c.Notify.Type)
		}
		if c.Notify.URL == "" {
			return errf("notify.url", "must be set")
		}
		if c.Notify.Type == "redis" && c.Notify.Channel == "" {
			return errf("notify.channel", "required for redis notify")
		}
	}

	if c.Archive != nil && c.Archive.Bucket == "" {
		return errf("archive.bucket", "must be set")
	}
	return nil
}
