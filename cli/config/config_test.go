package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/justapithecus/sluice/types"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sluice.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func assertEqual[T comparable](t *testing.T, name string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

const fullConfig = `project: bookings
version: v2

model:
  name: gpt-4o-mini
  endpoint: http://localhost:8000/classify
  tag: "7"
  timeout: 90s

inputs:
  - label: reviews
    path: data/inputs/reviews.csv
  - label: complaints
    path: data/inputs/complaints.csv
    strategy: manual
    ranges:
      - start: 1
        end: 600
        worker_id: 1
      - start: 601
        end: 1000
        worker_id: 2

prompt:
  columns_to_code: [category, sentiment]
  not_applicable_defaults:
    category: uncoded
  validation_rules:
    sentiment: [positive, negative, neutral]
  system_prompt: Classify each row.

workers:
  count: 4
  batch_size: 20
  checkpoint_interval: 100
  max_retries: 5
  retry_delay: 10s
  pause_poll: 1s
  stall_timeout: 3m
  failure_strategy: continue
  max_spawn_retries: 3

merge:
  condition: any_success
  keep_parts: true

base_dir: projects

notify:
  type: webhook
  url: https://hooks.example.com/sluice
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3

archive:
  bucket: my-bucket
  prefix: runs
  region: us-east-1
  endpoint: https://example.com
  path_style: true
`

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeTemp(t, fullConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "project", cfg.Project, "bookings")
	assertEqual(t, "version", cfg.Version, "v2")
	assertEqual(t, "model.name", cfg.Model.Name, "gpt-4o-mini")
	assertEqual(t, "model.tag", cfg.Model.Tag, "7")
	assertEqual(t, "model.timeout", cfg.Model.Timeout.Duration, 90*time.Second)

	if len(cfg.Inputs) != 2 {
		t.Fatalf("inputs = %d, want 2", len(cfg.Inputs))
	}
	assertEqual(t, "inputs[0].label", cfg.Inputs[0].Label, "reviews")
	assertEqual(t, "inputs[1].strategy", cfg.Inputs[1].Strategy, "manual")
	if len(cfg.Inputs[1].Ranges) != 2 || cfg.Inputs[1].Ranges[1].Start != 601 {
		t.Errorf("inputs[1].ranges = %+v", cfg.Inputs[1].Ranges)
	}

	if len(cfg.Prompt.ColumnsToCode) != 2 {
		t.Errorf("prompt.columns_to_code = %v", cfg.Prompt.ColumnsToCode)
	}
	assertEqual(t, "prompt defaults", cfg.Prompt.NotApplicableDefaults["category"], "uncoded")

	assertEqual(t, "workers.count", cfg.Workers.Count, 4)
	assertEqual(t, "workers.batch_size", cfg.Workers.BatchSize, 20)
	assertEqual(t, "workers.checkpoint_interval", cfg.Workers.CheckpointInterval, 100)
	assertEqual(t, "workers.max_retries", *cfg.Workers.MaxRetries, 5)
	assertEqual(t, "workers.retry_delay", cfg.Workers.RetryDelay.Duration, 10*time.Second)
	assertEqual(t, "workers.stall_timeout", cfg.Workers.StallTimeout.Duration, 3*time.Minute)

	assertEqual(t, "merge.condition", cfg.Merge.Condition, "any_success")
	assertEqual(t, "merge.keep_parts", cfg.Merge.KeepParts, true)

	if cfg.Notify == nil || cfg.Notify.Type != "webhook" {
		t.Errorf("notify = %+v", cfg.Notify)
	}
	if cfg.Archive == nil || cfg.Archive.Bucket != "my-bucket" || !cfg.Archive.PathStyle {
		t.Errorf("archive = %+v", cfg.Archive)
	}
}

const minimalConfig = `project: p
model:
  name: m
  endpoint: http://localhost:8000
inputs:
  - label: a
    path: a.csv
prompt:
  columns_to_code: [category]
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "version default", cfg.Version, "v1")
	assertEqual(t, "workers.count default", cfg.Workers.Count, 4)
	assertEqual(t, "workers.batch_size default", cfg.Workers.BatchSize, 10)
	assertEqual(t, "workers.checkpoint_interval default", cfg.Workers.CheckpointInterval, 50)
	assertEqual(t, "workers.failure_strategy default", cfg.Workers.FailureStrategy, "continue")
	assertEqual(t, "workers.max_retries default", *cfg.Workers.MaxRetries, 3)
	assertEqual(t, "workers.retry_delay default", cfg.Workers.RetryDelay.Duration, 5*time.Second)
	assertEqual(t, "merge.condition default", cfg.Merge.Condition, "all_success")
	assertEqual(t, "worker_binary default", cfg.WorkerBinary, "sluice-worker")
	assertEqual(t, "base_dir default", cfg.BaseDir, "projects")
}

func TestLoad_ExplicitZeroRetries(t *testing.T) {
	cfg, err := Load(writeTemp(t, minimalConfig+`workers:
  max_retries: 0
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// 0 disables retries and must not be replaced by the default.
	assertEqual(t, "workers.max_retries", *cfg.Workers.MaxRetries, 0)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(writeTemp(t, minimalConfig+"bogus_key: 1\n"))
	if err == nil {
		t.Fatal("unknown field should be rejected")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("SLUICE_TEST_ENDPOINT", "http://model:9000")
	cfg, err := Load(writeTemp(t, `project: p
model:
  name: m
  endpoint: ${SLUICE_TEST_ENDPOINT}
inputs:
  - label: a
    path: a.csv
prompt:
  columns_to_code: [category]
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "expanded endpoint", cfg.Model.Endpoint, "http://model:9000")
}

func TestValidate_Errors(t *testing.T) {
	base := func() *JobConfig {
		cfg := &JobConfig{
			Project: "p",
			Model:   ModelConfig{Name: "m", Endpoint: "http://x"},
			Inputs:  []InputConfig{{Label: "a", Path: "a.csv"}},
		}
		cfg.Prompt.ColumnsToCode = []string{"category"}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*JobConfig)
	}{
		{"missing project", func(c *JobConfig) { c.Project = "" }},
		{"missing model name", func(c *JobConfig) { c.Model.Name = "" }},
		{"missing endpoint", func(c *JobConfig) { c.Model.Endpoint = "" }},
		{"no inputs", func(c *JobConfig) { c.Inputs = nil }},
		{"duplicate label", func(c *JobConfig) {
			c.Inputs = append(c.Inputs, InputConfig{Label: "a", Path: "b.csv"})
		}},
		{"manual without ranges", func(c *JobConfig) { c.Inputs[0].Strategy = "manual" }},
		{"ranges without manual", func(c *JobConfig) {
			c.Inputs[0].Ranges = []types.RowRange{{Start: 1, End: 2, WorkerID: 1}}
		}},
		{"no prompt columns", func(c *JobConfig) { c.Prompt.ColumnsToCode = nil }},
		{"bad failure strategy", func(c *JobConfig) { c.Workers.FailureStrategy = "retry" }},
		{"bad merge condition", func(c *JobConfig) { c.Merge.Condition = "sometimes" }},
		{"bad notify type", func(c *JobConfig) {
			c.Notify = &NotifyConfig{Type: "smtp", URL: "x"}
		}},
		{"redis without channel", func(c *JobConfig) {
			c.Notify = &NotifyConfig{Type: "redis", URL: "redis://localhost"}
		}},
		{"archive without bucket", func(c *JobConfig) { c.Archive = &ArchiveConfig{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Errorf("err = %v, want *config.Error", err)
			}
		})
	}
}
