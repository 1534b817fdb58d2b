package models

import (
	"time"
)

// ReportBuildRequest is the body of POST /projects/{project}/builds
type ReportBuildRequest struct {
	Number      int         `json:"number" validate:"required,min=1"`
	Branch      string      `json:"branch"`
	Result      BuildResult `json:"result" validate:"required,oneof=SUCCESS UNSTABLE FAILURE ABORTED NOT_BUILT"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	Workspace   string      `json:"workspace,omitempty"`
	TestCount   *int        `json:"test_count,omitempty" validate:"omitempty,min=0"`
	AuthorName  string      `json:"author_name,omitempty"`
	AuthorEmail string      `json:"author_email,omitempty" validate:"omitempty,email"`
	Branches    []string    `json:"branches,omitempty"`
}

// ToBuild converts the request into a build record for project
func (r ReportBuildRequest) ToBuild(project string) Build {
	started := time.Now().UTC()
	if r.StartedAt != nil {
		started = r.StartedAt.UTC()
	}
	return Build{
		Project:     project,
		Number:      r.Number,
		Branch:      r.Branch,
		Result:      r.Result,
		StartedAt:   started,
		Workspace:   r.Workspace,
		TestCount:   r.TestCount,
		AuthorName:  r.AuthorName,
		AuthorEmail: r.AuthorEmail,
		Branches:    r.Branches,
	}
}

// JoinRequest is the body of POST /participation
type JoinRequest struct {
	Team string `json:"team" validate:"required,max=100"`
}

// RejectRequest is the body of POST /challenges/{id}/reject
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ChallengeView is the read-only rendering of a challenge
type ChallengeView struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	Score       int        `json:"score"`
	CreatedAt   time.Time  `json:"created_at"`
	SolvedAt    *time.Time `json:"solved_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// ParticipationView is a user's state in one project
type ParticipationView struct {
	UserID    string          `json:"user_id"`
	Project   string          `json:"project"`
	Team      string          `json:"team"`
	Score     int             `json:"score"`
	Current   []ChallengeView `json:"current"`
	Completed []ChallengeView `json:"completed"`
	Rejected  []ChallengeView `json:"rejected"`
}

// LeaderboardEntry is one row of a project leaderboard
type LeaderboardEntry struct {
	Name               string `json:"name"`
	Team               string `json:"team,omitempty"`
	Score              int    `json:"score"`
	CompletedChallenge int    `json:"completed_challenges"`
}

// Leaderboard groups user and team standings
type Leaderboard struct {
	Project string             `json:"project"`
	Users   []LeaderboardEntry `json:"users"`
	Teams   []LeaderboardEntry `json:"teams"`
}
