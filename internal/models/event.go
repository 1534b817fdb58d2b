package models

import (
	"time"
)

// EventType names a challenge lifecycle transition
type EventType string

const (
	EventGenerated EventType = "challenge.generated"
	EventSolved    EventType = "challenge.solved"
	EventRejected  EventType = "challenge.rejected"
	EventRun       EventType = "run.recorded"
)

// Event is broadcast to subscribers of a project
type Event struct {
	Type        EventType `json:"type"`
	Project     string    `json:"project"`
	UserID      string    `json:"user_id,omitempty"`
	ChallengeID string    `json:"challenge_id,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Description string    `json:"description,omitempty"`
	Score       int       `json:"score,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Run         int       `json:"run,omitempty"`
	Time        time.Time `json:"time"`
}
