package challenge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/terra-clan/challenge-engine/internal/coverage"
)

// RejectedChallenge is a challenge removed from the current set with a reason
type RejectedChallenge struct {
	Challenge Challenge
	Reason    string
}

// Participation is the game state of one user in one project.
// Each challenge lives in exactly one of Current, Completed and Rejected.
type Participation struct {
	UserID    string
	Project   string
	Team      string
	Score     int
	Current   []Challenge
	Completed []Challenge
	Rejected  []RejectedChallenge
	UpdatedAt time.Time
}

// NewParticipation creates an empty participation
func NewParticipation(userID, project, team string) *Participation {
	return &Participation{UserID: userID, Project: project, Team: team}
}

// Add appends c to the current challenges. Duplicates are the caller's concern.
func (p *Participation) Add(c Challenge) {
	p.Current = append(p.Current, c)
}

func (p *Participation) takeCurrent(id string) (Challenge, bool) {
	for i, c := range p.Current {
		if c.ID() == id {
			p.Current = append(p.Current[:i:i], p.Current[i+1:]...)
			return c, true
		}
	}
	return nil, false
}

// Complete moves a current challenge to completed and adds its score.
// Placeholders are dropped instead of being kept as completed.
func (p *Participation) Complete(id string) (Challenge, bool) {
	c, ok := p.takeCurrent(id)
	if !ok {
		return nil, false
	}
	if IsDummy(c) {
		return c, true
	}
	p.Completed = append(p.Completed, c)
	p.Score += c.Score()
	return c, true
}

// Reject moves a current challenge to rejected with reason
func (p *Participation) Reject(id, reason string) (Challenge, bool) {
	c, ok := p.takeCurrent(id)
	if !ok {
		return nil, false
	}
	p.Rejected = append(p.Rejected, RejectedChallenge{Challenge: c, Reason: reason})
	return c, true
}

// Find returns the current challenge with id
func (p *Participation) Find(id string) (Challenge, bool) {
	for _, c := range p.Current {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// HasCurrent reports whether a current challenge has the description of c
func (p *Participation) HasCurrent(c Challenge) bool {
	for _, cur := range p.Current {
		if SameAs(cur, c) {
			return true
		}
	}
	return false
}

// HasCurrentKind reports whether a current challenge is of kind
func (p *Participation) HasCurrentKind(kind Kind) bool {
	for _, cur := range p.Current {
		if cur.Kind() == kind {
			return true
		}
	}
	return false
}

// IsRejected reports whether a challenge with the description of c was rejected before
func (p *Participation) IsRejected(c Challenge) bool {
	for _, r := range p.Rejected {
		if SameAs(r.Challenge, c) {
			return true
		}
	}
	return false
}

// RejectedClass reports whether a class challenge for class was rejected before.
// Classes are matched by ID, so a class found in another module still matches.
func (p *Participation) RejectedClass(class *coverage.ClassDetails) bool {
	id := class.ID()
	for _, r := range p.Rejected {
		cc, ok := r.Challenge.(*ClassCoverageChallenge)
		if ok && cc.class.ID() == id {
			return true
		}
	}
	return false
}

// CompletedCount returns the number of completed challenges
func (p *Participation) CompletedCount() int {
	return len(p.Completed)
}

// Clone returns a deep copy; mutations of the copy never reach p
func (p *Participation) Clone() *Participation {
	out := *p
	out.Current = cloneAll(p.Current)
	out.Completed = cloneAll(p.Completed)
	out.Rejected = make([]RejectedChallenge, 0, len(p.Rejected))
	for _, r := range p.Rejected {
		out.Rejected = append(out.Rejected, RejectedChallenge{Challenge: Clone(r.Challenge), Reason: r.Reason})
	}
	return &out
}

func cloneAll(list []Challenge) []Challenge {
	out := make([]Challenge, 0, len(list))
	for _, c := range list {
		out = append(out, Clone(c))
	}
	return out
}

type rejectedRecord struct {
	Challenge json.RawMessage `json:"challenge"`
	Reason    string          `json:"reason"`
}

// EncodeList serializes challenges as a JSON array
func EncodeList(list []Challenge) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(list))
	for _, c := range list {
		data, err := Encode(c)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return json.Marshal(raw)
}

// DecodeList restores a list written by EncodeList
func DecodeList(data []byte) ([]Challenge, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode challenge list: %w", err)
	}
	out := make([]Challenge, 0, len(raw))
	for _, item := range raw {
		c, err := Decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// EncodeRejected serializes rejected challenges with their reasons
func EncodeRejected(list []RejectedChallenge) ([]byte, error) {
	out := make([]rejectedRecord, 0, len(list))
	for _, r := range list {
		data, err := Encode(r.Challenge)
		if err != nil {
			return nil, err
		}
		out = append(out, rejectedRecord{Challenge: data, Reason: r.Reason})
	}
	return json.Marshal(out)
}

// DecodeRejected restores a list written by EncodeRejected
func DecodeRejected(data []byte) ([]RejectedChallenge, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw []rejectedRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode rejected challenges: %w", err)
	}
	out := make([]RejectedChallenge, 0, len(raw))
	for _, r := range raw {
		c, err := Decode(r.Challenge)
		if err != nil {
			return nil, err
		}
		out = append(out, RejectedChallenge{Challenge: c, Reason: r.Reason})
	}
	return out, nil
}

type participationRecord struct {
	UserID    string          `json:"user_id"`
	Project   string          `json:"project"`
	Team      string          `json:"team"`
	Score     int             `json:"score"`
	Current   json.RawMessage `json:"current"`
	Completed json.RawMessage `json:"completed"`
	Rejected  json.RawMessage `json:"rejected"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MarshalJSON implements json.Marshaler
func (p *Participation) MarshalJSON() ([]byte, error) {
	current, err := EncodeList(p.Current)
	if err != nil {
		return nil, err
	}
	completed, err := EncodeList(p.Completed)
	if err != nil {
		return nil, err
	}
	rejected, err := EncodeRejected(p.Rejected)
	if err != nil {
		return nil, err
	}
	return json.Marshal(participationRecord{
		UserID:    p.UserID,
		Project:   p.Project,
		Team:      p.Team,
		Score:     p.Score,
		Current:   current,
		Completed: completed,
		Rejected:  rejected,
		UpdatedAt: p.UpdatedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (p *Participation) UnmarshalJSON(data []byte) error {
	var r participationRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("failed to decode participation: %w", err)
	}
	current, err := DecodeList(r.Current)
	if err != nil {
		return err
	}
	completed, err := DecodeList(r.Completed)
	if err != nil {
		return err
	}
	rejected, err := DecodeRejected(r.Rejected)
	if err != nil {
		return err
	}

	*p = Participation{
		UserID:    r.UserID,
		Project:   r.Project,
		Team:      r.Team,
		Score:     r.Score,
		Current:   current,
		Completed: completed,
		Rejected:  rejected,
		UpdatedAt: r.UpdatedAt,
	}
	return nil
}
