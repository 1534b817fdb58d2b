package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/metrics"
	"github.com/terra-clan/challenge-engine/internal/models"
)

const noReason = "No reason provided"

func (e *Engine) project(name string) (*models.Project, error) {
	p, ok := e.catalog.Project(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	return p, nil
}

func (e *Engine) directoryUser(id string) (models.User, bool) {
	for _, u := range e.catalog.Users() {
		if u.ID == id {
			return u, true
		}
	}
	return models.User{}, false
}

// Join makes userID participate in project for team. Joining again switches team
// and keeps the game state.
func (e *Engine) Join(ctx context.Context, projectName, userID, team string) (*challenge.Participation, error) {
	project, err := e.project(projectName)
	if err != nil {
		return nil, err
	}
	if _, ok := e.directoryUser(userID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	if len(project.Teams) > 0 && !project.HasTeam(team) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTeam, team)
	}

	unlock, err := e.locker.Lock(ctx, lockKey(projectName, userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := e.store.GetParticipation(ctx, projectName, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participation: %w", err)
	}
	if p == nil {
		p = challenge.NewParticipation(userID, projectName, team)
	}
	p.Team = team
	p.UpdatedAt = e.now().UTC()

	if err := e.store.SaveParticipation(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save participation: %w", err)
	}

	e.logger.Infow("user joined", "project", projectName, "user", userID, "team", team)
	return p, nil
}

// Leave removes userID and their game state from project
func (e *Engine) Leave(ctx context.Context, projectName, userID string) error {
	if _, err := e.project(projectName); err != nil {
		return err
	}

	unlock, err := e.locker.Lock(ctx, lockKey(projectName, userID))
	if err != nil {
		return err
	}
	defer unlock()

	p, err := e.store.GetParticipation(ctx, projectName, userID)
	if err != nil {
		return fmt.Errorf("failed to load participation: %w", err)
	}
	if p == nil {
		return ErrNotParticipating
	}
	if err := e.store.DeleteParticipation(ctx, projectName, userID); err != nil {
		return fmt.Errorf("failed to delete participation: %w", err)
	}

	e.logger.Infow("user left", "project", projectName, "user", userID)
	return nil
}

// RejectChallenge moves a current challenge of userID to rejected. The next
// build refills the quota.
func (e *Engine) RejectChallenge(ctx context.Context, projectName, userID, challengeID, reason string) (challenge.Challenge, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if strings.TrimSpace(reason) == "" {
		reason = noReason
	}
	if _, err := e.project(projectName); err != nil {
		return nil, err
	}

	unlock, err := e.locker.Lock(ctx, lockKey(projectName, userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := e.store.GetParticipation(ctx, projectName, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participation: %w", err)
	}
	if p == nil {
		return nil, ErrNotParticipating
	}

	c, ok := p.Reject(challengeID, reason)
	if !ok {
		return nil, ErrChallengeNotFound
	}
	p.UpdatedAt = e.now().UTC()
	if err := e.store.SaveParticipation(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save participation: %w", err)
	}

	metrics.ChallengesRejected.WithLabelValues(string(c.Kind())).Inc()
	event := eventFor(models.EventRejected, p, c)
	event.Reason = reason
	e.notify(ctx, event)

	e.logger.Infow("challenge rejected",
		"project", projectName,
		"user", userID,
		"challenge", c.String(),
		"reason", reason,
	)
	return c, nil
}

// Challenges returns the saved game state of userID
func (e *Engine) Challenges(ctx context.Context, projectName, userID string) (*models.ParticipationView, error) {
	if _, err := e.project(projectName); err != nil {
		return nil, err
	}

	p, err := e.store.GetParticipation(ctx, projectName, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participation: %w", err)
	}
	if p == nil {
		return nil, ErrNotParticipating
	}
	return View(p), nil
}

// Leaderboard ranks the participants and teams of project by score
func (e *Engine) Leaderboard(ctx context.Context, projectName string) (*models.Leaderboard, error) {
	if _, err := e.project(projectName); err != nil {
		return nil, err
	}

	participations, err := e.store.ListParticipations(ctx, projectName)
	if err != nil {
		return nil, fmt.Errorf("failed to list participations: %w", err)
	}

	board := &models.Leaderboard{
		Project: projectName,
		Users:   make([]models.LeaderboardEntry, 0, len(participations)),
		Teams:   []models.LeaderboardEntry{},
	}
	teams := make(map[string]*models.LeaderboardEntry)

	for _, p := range participations {
		name := p.UserID
		if u, ok := e.directoryUser(p.UserID); ok && u.FullName != "" {
			name = u.FullName
		}
		board.Users = append(board.Users, models.LeaderboardEntry{
			Name:               name,
			Team:               p.Team,
			Score:              p.Score,
			CompletedChallenge: p.CompletedCount(),
		})

		if p.Team == "" {
			continue
		}
		t, ok := teams[p.Team]
		if !ok {
			t = &models.LeaderboardEntry{Name: p.Team}
			teams[p.Team] = t
		}
		t.Score += p.Score
		t.CompletedChallenge += p.CompletedCount()
	}
	for _, t := range teams {
		board.Teams = append(board.Teams, *t)
	}

	rank(board.Users)
	rank(board.Teams)
	return board, nil
}

func rank(entries []models.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].CompletedChallenge != entries[j].CompletedChallenge {
			return entries[i].CompletedChallenge > entries[j].CompletedChallenge
		}
		return entries[i].Name < entries[j].Name
	})
}

// View renders p for readers
func View(p *challenge.Participation) *models.ParticipationView {
	v := &models.ParticipationView{
		UserID:    p.UserID,
		Project:   p.Project,
		Team:      p.Team,
		Score:     p.Score,
		Current:   make([]models.ChallengeView, 0, len(p.Current)),
		Completed: make([]models.ChallengeView, 0, len(p.Completed)),
		Rejected:  make([]models.ChallengeView, 0, len(p.Rejected)),
	}
	for _, c := range p.Current {
		v.Current = append(v.Current, ViewChallenge(c, ""))
	}
	for _, c := range p.Completed {
		v.Completed = append(v.Completed, ViewChallenge(c, ""))
	}
	for _, r := range p.Rejected {
		v.Rejected = append(v.Rejected, ViewChallenge(r.Challenge, r.Reason))
	}
	return v
}

// ViewChallenge renders one challenge, with the rejection reason when given
func ViewChallenge(c challenge.Challenge, reason string) models.ChallengeView {
	v := models.ChallengeView{
		ID:          c.ID(),
		Kind:        string(c.Kind()),
		Description: c.String(),
		Score:       c.Score(),
		CreatedAt:   c.CreatedAt(),
		Reason:      reason,
	}
	if solved := c.SolvedAt(); !solved.IsZero() {
		v.SolvedAt = new(time.Time)
		*v.SolvedAt = solved
	}
	return v
}
