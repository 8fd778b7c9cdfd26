package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParsePlanYAML(t *testing.T) {
	data := []byte(`
name: midterm
topics:
  - topic: algebra
    hours: 10
    levels:
      remember: 4
      apply: 6
    difficulties:
      easy: 3
      medium: 5
      hard: 2
  - topic: geometry
    hours: 6
    levels:
      analyze: 2
`)
	plan, err := ParsePlan(data, "midterm.yaml")
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.Name != "midterm" {
		t.Errorf("name = %q, want midterm", plan.Name)
	}
	if len(plan.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(plan.Topics))
	}
	if plan.Topics[0].LevelCounts[LevelApply] != 6 {
		t.Errorf("algebra apply count = %d, want 6", plan.Topics[0].LevelCounts[LevelApply])
	}
	if plan.Topics[0].DifficultyCounts[DifficultyHard] != 2 {
		t.Errorf("algebra hard count = %d, want 2", plan.Topics[0].DifficultyCounts[DifficultyHard])
	}
	if got := plan.TotalHours(); got != 16 {
		t.Errorf("TotalHours() = %v, want 16", got)
	}
}

func TestParsePlanJSON(t *testing.T) {
	data := []byte(`{"topics":[{"topic":"optics","hours":4,"levels":{"understand":3}}]}`)
	plan, err := ParsePlan(data, "plan.json")
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.Topics[0].Topic != "optics" {
		t.Errorf("topic = %q, want optics", plan.Topics[0].Topic)
	}
}

func TestParsePlanErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		file string
	}{
		{"malformed yaml", "topics: [", "bad.yaml"},
		{"malformed json", `{"topics":`, "bad.json"},
		{"no topics", "name: empty", "empty.yaml"},
		{"duplicate topic", `
topics:
  - topic: algebra
    hours: 1
  - topic: algebra
    hours: 2
`, "dup.yaml"},
		{"negative hours", `
topics:
  - topic: algebra
    hours: -1
`, "neg.yaml"},
		{"unknown level", `
topics:
  - topic: algebra
    hours: 1
    levels:
      memorize: 3
`, "level.yaml"},
		{"unknown difficulty", `
topics:
  - topic: algebra
    hours: 1
    difficulties:
      brutal: 3
`, "band.yaml"},
		{"negative count", `
topics:
  - topic: algebra
    hours: 1
    levels:
      remember: -2
`, "count.yaml"},
		{"blank topic name", `
topics:
  - topic: "  "
    hours: 1
`, "blank.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePlan([]byte(tt.data), tt.file); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	content := []byte("topics:\n  - topic: chemistry\n    hours: 3\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	plan, err := LoadPlan(path)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if plan.Topics[0].Topic != "chemistry" {
		t.Errorf("topic = %q, want chemistry", plan.Topics[0].Topic)
	}

	if _, err := LoadPlan(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
