package models

// Project describes a game-enabled CI project
type Project struct {
	Name      string   `json:"name" yaml:"name"`
	Activated bool     `json:"activated" yaml:"activated"`
	Teams     []string `json:"teams" yaml:"teams"`

	// Workspace is the default checkout location used when a build does not carry one
	Workspace string `json:"workspace,omitempty" yaml:"workspace"`

	// JaCoCo report locations, relative to each module root and prefixed with "**/"
	JacocoResultsPath string `json:"jacoco_results_path" yaml:"jacoco_results_path"`
	JacocoCSVPath     string `json:"jacoco_csv_path" yaml:"jacoco_csv_path"`

	// SearchCommitCount bounds the history scan per user; 0 means the engine default
	SearchCommitCount int `json:"search_commit_count,omitempty" yaml:"search_commit_count"`
}

// HasTeam reports whether team is configured for the project
func (p *Project) HasTeam(team string) bool {
	for _, t := range p.Teams {
		if t == team {
			return true
		}
	}
	return false
}
