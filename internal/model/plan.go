package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TopicRequirement is one row of a coverage plan: a topic, its taught
// hours, and the requested per-level and per-difficulty counts used as
// distribution weights.
type TopicRequirement struct {
	Topic            string                 `json:"topic" yaml:"topic"`
	Hours            float64                `json:"hours" yaml:"hours"`
	LevelCounts      map[CognitiveLevel]int `json:"levels" yaml:"levels"`
	DifficultyCounts map[Difficulty]int     `json:"difficulties" yaml:"difficulties"`
}

// CoveragePlan is the topic × cognitive-level × difficulty target
// matrix driving an assembly run. Immutable once slot expansion begins.
type CoveragePlan struct {
	Name   string             `json:"name,omitempty" yaml:"name,omitempty"`
	Topics []TopicRequirement `json:"topics" yaml:"topics"`
}

// Validate checks plan invariants: at least one topic, non-negative
// hours and counts, known levels and difficulty bands.
func (p *CoveragePlan) Validate() error {
	if p == nil || len(p.Topics) == 0 {
		return fmt.Errorf("coverage plan has no topics")
	}
	seen := make(map[string]bool, len(p.Topics))
	for _, tr := range p.Topics {
		if strings.TrimSpace(tr.Topic) == "" {
			return fmt.Errorf("coverage plan has a topic with empty name")
		}
		if seen[tr.Topic] {
			return fmt.Errorf("duplicate topic %q in coverage plan", tr.Topic)
		}
		seen[tr.Topic] = true
		if tr.Hours < 0 {
			return fmt.Errorf("topic %q has negative hours", tr.Topic)
		}
		for level, n := range tr.LevelCounts {
			if !level.Valid() {
				return fmt.Errorf("topic %q uses unknown cognitive level %q", tr.Topic, level)
			}
			if n < 0 {
				return fmt.Errorf("topic %q has negative count for level %q", tr.Topic, level)
			}
		}
		for band, n := range tr.DifficultyCounts {
			if !band.Valid() {
				return fmt.Errorf("topic %q uses unknown difficulty %q", tr.Topic, band)
			}
			if n < 0 {
				return fmt.Errorf("topic %q has negative count for difficulty %q", tr.Topic, band)
			}
		}
	}
	return nil
}

// TotalHours sums the taught hours across all topics.
func (p *CoveragePlan) TotalHours() float64 {
	var total float64
	for _, tr := range p.Topics {
		total += tr.Hours
	}
	return total
}

// ParsePlan decodes a coverage plan from YAML or JSON bytes and
// validates it. The format is chosen by the name's extension; anything
// but .json is treated as YAML.
func ParsePlan(data []byte, name string) (*CoveragePlan, error) {
	var plan CoveragePlan
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		if err := json.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("parse plan %s: %w", name, err)
		}
	default:
		if err := yaml.Unmarshal(data, &plan); err != nil {
			return nil, fmt.Errorf("parse plan %s: %w", name, err)
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("validate plan %s: %w", name, err)
	}
	return &plan, nil
}

// LoadPlan reads and parses a coverage plan file.
func LoadPlan(path string) (*CoveragePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	return ParsePlan(data, path)
}
