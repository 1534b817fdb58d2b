package engine

import (
	"context"
	"fmt"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/coverage"
	"github.com/terra-clan/challenge-engine/internal/metrics"
	"github.com/terra-clan/challenge-engine/internal/models"
)

// NotSolvable is the reason recorded for challenges that can no longer be solved
const NotSolvable = "Not solvable"

// processUser runs the lifecycle steps for one participant under their lock:
// build challenge, solved check, solvable check, refill, save
func (e *Engine) processUser(ctx context.Context, r *run, userID string) (userResult, error) {
	var res userResult
	project := r.project.Name

	unlock, err := e.locker.Lock(ctx, lockKey(project, userID))
	if err != nil {
		return res, err
	}
	defer unlock()

	p, err := e.store.GetParticipation(ctx, project, userID)
	if err != nil {
		return res, fmt.Errorf("failed to load participation: %w", err)
	}
	if p == nil {
		// left while the build was running
		return res, nil
	}

	user := r.user(userID)
	env := &challenge.Env{
		Build:       r.build,
		TestCount:   r.testCount,
		Reader:      e.reader,
		History:     r.repo,
		User:        user,
		Users:       r.users,
		CommitLimit: r.commitLimit,
		Now:         e.now,
		Logger:      e.logger.With("project", project, "user", userID),
	}

	if r.build.Result.IsFailure() && r.culprit == userID && !p.HasCurrentKind(challenge.KindBuild) {
		c := challenge.NewBuildChallenge(e.now())
		p.Add(c)
		res.generated++
		e.generated(ctx, p, c)
	}

	for _, c := range append([]challenge.Challenge(nil), p.Current...) {
		if !c.IsSolved(ctx, env) {
			continue
		}
		p.Complete(c.ID())
		if challenge.IsDummy(c) {
			continue
		}
		res.solved++
		metrics.ChallengesSolved.WithLabelValues(string(c.Kind())).Inc()
		e.notify(ctx, eventFor(models.EventSolved, p, c))
		e.logger.Infow("challenge solved",
			"project", project,
			"user", userID,
			"challenge", c.String(),
			"score", c.Score(),
		)
	}

	for _, c := range append([]challenge.Challenge(nil), p.Current...) {
		if c.IsSolvable(ctx, env) {
			continue
		}
		p.Reject(c.ID(), NotSolvable)
		metrics.ChallengesRejected.WithLabelValues(string(c.Kind())).Inc()
		event := eventFor(models.EventRejected, p, c)
		event.Reason = NotSolvable
		e.notify(ctx, event)
		e.logger.Infow("challenge no longer solvable",
			"project", project,
			"user", userID,
			"challenge", c.String(),
		)
	}

	if r.scanErr == nil {
		res.generated += e.refill(ctx, r, p, user)
	} else {
		e.logger.Warnw("skipping challenge generation after scan failure",
			"project", project,
			"user", userID,
			"error", r.scanErr,
		)
	}

	p.UpdatedAt = e.now().UTC()
	if err := e.store.SaveParticipation(ctx, p); err != nil {
		e.logger.Errorw("failed to save participation",
			"project", project,
			"user", userID,
			"error", err,
		)
	}
	return res, nil
}

// refill tops the current challenges up to the quota and returns how many
// real challenges were added. Users without eligible classes get placeholders.
func (e *Engine) refill(ctx context.Context, r *run, p *challenge.Participation, user models.User) int {
	classes := r.classesOf(user.ID)
	generated := 0

	for len(p.Current) < e.cfg.Quota {
		if len(classes) == 0 {
			p.Add(challenge.NewDummyChallenge(e.now()))
			continue
		}

		c := e.unique(ctx, r, p, user, classes)
		p.Add(c)
		if challenge.IsDummy(c) {
			metrics.GenerationFallbacks.Inc()
			continue
		}
		generated++
		e.generated(ctx, p, c)
	}
	return generated
}

// unique generates until the description differs from every current challenge
func (e *Engine) unique(ctx context.Context, r *run, p *challenge.Participation, user models.User, classes []*coverage.ClassDetails) challenge.Challenge {
	for attempt := 0; attempt < e.cfg.UniquenessAttempts; attempt++ {
		c := e.factory.Generate(ctx, challenge.GenerateRequest{
			User:          user,
			Classes:       classes,
			Branch:        r.build.Branch,
			Workspace:     r.build.Workspace,
			Head:          r.head,
			TestCount:     r.testCount,
			Participation: p,
		})
		if challenge.IsDummy(c) || !p.HasCurrent(c) {
			return c
		}
		e.logger.Debugw("generated challenge is not unique",
			"project", p.Project,
			"user", user.ID,
			"challenge", c.String(),
		)
	}
	return challenge.NewDummyChallenge(e.now())
}

func (e *Engine) generated(ctx context.Context, p *challenge.Participation, c challenge.Challenge) {
	metrics.ChallengesGenerated.WithLabelValues(string(c.Kind())).Inc()
	e.notify(ctx, eventFor(models.EventGenerated, p, c))
	e.logger.Debugw("challenge generated",
		"project", p.Project,
		"user", p.UserID,
		"challenge", c.String(),
	)
}

func eventFor(t models.EventType, p *challenge.Participation, c challenge.Challenge) models.Event {
	return models.Event{
		Type:        t,
		Project:     p.Project,
		UserID:      p.UserID,
		ChallengeID: c.ID(),
		Kind:        string(c.Kind()),
		Description: c.String(),
		Score:       c.Score(),
	}
}
