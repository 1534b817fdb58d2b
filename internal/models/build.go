package models

import (
	"time"
)

// BuildResult is the outcome reported by the CI host
type BuildResult string

const (
	ResultSuccess  BuildResult = "SUCCESS"
	ResultUnstable BuildResult = "UNSTABLE"
	ResultFailure  BuildResult = "FAILURE"
	ResultAborted  BuildResult = "ABORTED"
	ResultNotBuilt BuildResult = "NOT_BUILT"
)

// IsSuccess returns true only for SUCCESS
func (r BuildResult) IsSuccess() bool {
	return r == ResultSuccess
}

// IsFailure returns true if the build failed outright
func (r BuildResult) IsFailure() bool {
	return r == ResultFailure
}

// Build is one build notification from the CI host
type Build struct {
	Project   string      `json:"project"`
	Number    int         `json:"number"`
	Branch    string      `json:"branch"`
	Result    BuildResult `json:"result"`
	StartedAt time.Time   `json:"started_at"`

	// Workspace is the checkout the build ran in; reports are resolved relative to it
	Workspace string `json:"workspace,omitempty"`

	// TestCount overrides the JUnit report scan when the host already knows it
	TestCount *int `json:"test_count,omitempty"`

	// Author of the failing commit; when empty the HEAD author is used
	AuthorName  string `json:"author_name,omitempty"`
	AuthorEmail string `json:"author_email,omitempty"`

	// Branches lists the branches still under development; nil means unknown
	Branches []string `json:"branches,omitempty"`
}

// HasBranch reports whether branch is still active. Unknown branch lists count as active.
func (b *Build) HasBranch(branch string) bool {
	if b.Branches == nil {
		return true
	}
	for _, name := range b.Branches {
		if name == branch {
			return true
		}
	}
	return false
}

// RunEntry is one statistics record per build
type RunEntry struct {
	Number    int         `json:"number"`
	Branch    string      `json:"branch"`
	Result    BuildResult `json:"result"`
	StartTime time.Time   `json:"start_time"`
	Generated int         `json:"generated_challenges"`
	Solved    int         `json:"solved_challenges"`
	TestCount int         `json:"tests"`
	Coverage  float64     `json:"coverage"`
}

// RunSummary is returned to the CI host after processing a build
type RunSummary struct {
	Generated int `json:"generated"`
	Solved    int `json:"solved"`
}
