package config

import (
	"fmt"
	"time"

	"github.com/justapithecus/sluice/processor"
	"github.com/justapithecus/sluice/types"
)

// JobConfig is a sluice job configuration file. It fully describes a
// run: inputs, model, worker behavior, and optional integrations. A
// JSON snapshot of the validated config is embedded in the run
// manifest at creation.
type JobConfig struct {
	Project string `yaml:"project" json:"project"`
	Version string `yaml:"version" json:"version"`

	Model  ModelConfig            `yaml:"model" json:"model"`
	Inputs []InputConfig          `yaml:"inputs" json:"inputs"`
	Prompt processor.PromptConfig `yaml:"prompt" json:"prompt"`

	Workers WorkerConfig `yaml:"workers" json:"workers"`
	Merge   MergeConfig  `yaml:"merge" json:"merge"`

	// BaseDir is the root under which run directories are created.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// WorkerBinary is the worker executable the orchestrator spawns.
	// Defaults to "sluice-worker" resolved via PATH.
	WorkerBinary string `yaml:"worker_binary,omitempty" json:"worker_binary,omitempty"`

	Notify  *NotifyConfig  `yaml:"notify,omitempty" json:"notify,omitempty"`
	Archive *ArchiveConfig `yaml:"archive,omitempty" json:"archive,omitempty"`
}

// ModelConfig identifies the classification model and its server.
type ModelConfig struct {
	Name     string `yaml:"name" json:"name"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Tag overrides the derived model tag in run IDs.
	Tag     string   `yaml:"tag,omitempty" json:"tag,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// InputConfig is one input file of the run.
type InputConfig struct {
	Label string `yaml:"label" json:"label"`
	Path  string `yaml:"path" json:"path"`
	// Strategy selects partitioning: "auto" (default) or "manual".
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	// Ranges are the manual ranges; required iff Strategy is "manual".
	Ranges []types.RowRange `yaml:"ranges,omitempty" json:"ranges,omitempty"`
}

// WorkerConfig holds worker behavior settings.
type WorkerConfig struct {
	// Count is the number of workers per input file.
	Count int `yaml:"count" json:"count"`
	// BatchSize is rows per model invocation.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CheckpointInterval is rows accumulated before a checkpoint flush.
	CheckpointInterval int `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	// MaxRetries is retries per failed batch. Unset defaults to 3; an
	// explicit 0 disables retries.
	MaxRetries *int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	// RetryDelay is the fixed delay between batch retries.
	RetryDelay Duration `yaml:"retry_delay" json:"retry_delay"`
	// PausePoll is how often a worker checks the pause flag.
	PausePoll Duration `yaml:"pause_poll" json:"pause_poll"`
	// StallTimeout is how stale a status document may be before the
	// monitor presents the worker as stalled.
	StallTimeout Duration `yaml:"stall_timeout" json:"stall_timeout"`
	// FailureStrategy is "continue" (not-applicable defaults) or "abort".
	FailureStrategy string `yaml:"failure_strategy" json:"failure_strategy"`
	// MaxSpawnRetries is orchestrator-side retries per worker spawn.
	MaxSpawnRetries int `yaml:"max_spawn_retries" json:"max_spawn_retries"`
}

// Merge conditions.
const (
	// MergeAllSuccess merges only when every worker completed.
	MergeAllSuccess = "all_success"
	// MergeAnySuccess merges the completed workers' results.
	MergeAnySuccess = "any_success"
	// MergeAlways merges whatever checkpoint parts exist.
	MergeAlways = "always"
)

// MergeConfig holds merge behavior settings.
type MergeConfig struct {
	// Condition is "all_success", "any_success", or "always".
	Condition string `yaml:"condition" json:"condition"`
	// KeepParts leaves checkpoint parts in place after a merge.
	KeepParts bool `yaml:"keep_parts" json:"keep_parts"`
}

// NotifyConfig selects a run event adapter.
type NotifyConfig struct {
	Type    string            `yaml:"type" json:"type"`
	URL     string            `yaml:"url" json:"url"`
	Channel string            `yaml:"channel,omitempty" json:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// ArchiveConfig enables S3 upload of merged artifacts.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket" json:"bucket"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
	// Endpoint and PathStyle support S3-compatible stores.
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty" json:"path_style,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration as its string form so config
// snapshots parse back through UnmarshalYAML.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// MarshalJSON renders the duration as its string form so the manifest
// snapshot stays readable.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.Duration.String())), nil
}

// UnmarshalJSON parses the string form written by MarshalJSON.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
