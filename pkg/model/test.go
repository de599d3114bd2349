package model

import "time"

// TestRecord is one entry of the test universe snapshot. It is built once
// per coordinator run and never mutated afterwards.
type TestRecord struct {
	ID            string   `json:"id" yaml:"id"`
	Tags          []string `json:"tags" yaml:"tags"`
	ComponentTags []string `json:"component_tags,omitempty" yaml:"component_tags,omitempty"`
	Parallel      bool     `json:"parallel" yaml:"parallel"`
	Skip          bool     `json:"skip" yaml:"skip"`
}

// HasTag reports whether tag appears in the record's tag list.
func (r *TestRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TestResult is the "test finished" record a worker reports once a test
// has run against a target.
type TestResult struct {
	TestID    string        `json:"test_id"`
	Ticket    string        `json:"ticket"`
	Status    TestStatus    `json:"status"`
	Artifact  string        `json:"artifact"`
	Target    string        `json:"target,omitempty"`
	Build     string        `json:"build,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
