package types //nolint:revive // types is a valid package name

import (
	"testing"
	"time"
)

func TestResolveModelTag(t *testing.T) {
	tests := []struct {
		name      string
		modelName string
		override  string
		want      string
	}{
		{name: "sanitized name", modelName: "gpt-4o-mini", want: "mgpt4omini"},
		{name: "trimmed to ten", modelName: "llama3.1-70b-instruct", want: "mllama3170b"},
		{name: "override wins", modelName: "gpt-4o-mini", override: "7", want: "m7"},
		{name: "empty name", modelName: "---", want: "munknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveModelTag(tt.modelName, tt.override)
			if got != tt.want {
				t.Errorf("ResolveModelTag() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildRunID(t *testing.T) {
	ts := time.Date(2025, 1, 29, 15, 30, 12, 0, time.UTC)

	got := BuildRunID("bookings", "v2", "m7", ts)
	want := "bookings_v2_m7_20250129_153012"
	if got != want {
		t.Errorf("BuildRunID() = %q, want %q", got, want)
	}
}

func TestBuildRunID_Sanitizes(t *testing.T) {
	ts := time.Date(2025, 1, 29, 15, 30, 12, 0, time.UTC)

	got := BuildRunID("my project!", "v 2", "m7", ts)
	want := "my_project__v_2_m7_20250129_153012"
	if got != want {
		t.Errorf("BuildRunID() = %q, want %q", got, want)
	}
}

func TestJobID(t *testing.T) {
	got := JobID("bookings_v2_m7_20250129_153012", "reviews", 3)
	want := "bookings_v2_m7_20250129_153012_reviews_w3"
	if got != want {
		t.Errorf("JobID() = %q, want %q", got, want)
	}
}

func TestRunMeta_Validate(t *testing.T) {
	tests := []struct {
		name    string
		meta    RunMeta
		wantErr bool
	}{
		{
			name:    "empty run_id",
			meta:    RunMeta{Project: "p", ModelName: "m"},
			wantErr: true,
		},
		{
			name:    "empty project",
			meta:    RunMeta{RunID: "r", ModelName: "m"},
			wantErr: true,
		},
		{
			name:    "empty model",
			meta:    RunMeta{RunID: "r", Project: "p"},
			wantErr: true,
		},
		{
			name: "valid",
			meta: RunMeta{RunID: "r", Project: "p", ModelName: "m"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
