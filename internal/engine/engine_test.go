package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/terra-clan/challenge-engine/internal/catalog"
	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/coverage"
	"github.com/terra-clan/challenge-engine/internal/coverage/coveragetest"
	"github.com/terra-clan/challenge-engine/internal/history/historytest"
	"github.com/terra-clan/challenge-engine/internal/identity"
	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/statistics"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

var (
	clock = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	jane = models.User{ID: "jane", FullName: "Jane Doe", Email: "jane@x.com", GitNames: []string{"jane"}}
	adam = models.User{ID: "adam", FullName: "Adam Smith", Email: "adam@x.com"}

	janeAuthor = identity.Author{Name: "Jane Doe", Email: "jane@x.com"}
)

// fixedRand never draws a test challenge and always takes the first option
type fixedRand struct{}

func (fixedRand) Float64() float64 { return 0.95 }
func (fixedRand) Intn(int) int     { return 0 }

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(_ context.Context, e models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func fooClass(covered, missed int, lines ...coverage.Line) coveragetest.Class {
	return coveragetest.Class{
		Package: "com.example",
		Name:    "Foo",
		Lines:   lines,
		Methods: []coverage.Method{{Name: "compute()", Lines: 4, MissedLines: 2}},
		Covered: covered,
		Missed:  missed,
	}
}

func partlyCovered() coveragetest.Class {
	return fooClass(40, 60,
		coverage.Line{Number: 1, Text: "public class Foo {", Category: coverage.FullyCovered},
		coverage.Line{Number: 3, Text: "int x = 0;", Category: coverage.FullyCovered},
		coverage.Line{Number: 5, Text: "if (x > 2) {", Category: coverage.PartiallyCovered, Title: "1 of 2 branches missed."},
		coverage.Line{Number: 6, Text: "x++;", Category: coverage.NotCovered},
		coverage.Line{Number: 7, Text: "return x;", Category: coverage.NotCovered},
	)
}

func mostlyCovered() coveragetest.Class {
	return fooClass(95, 5,
		coverage.Line{Number: 1, Text: "public class Foo {", Category: coverage.FullyCovered},
		coverage.Line{Number: 3, Text: "int x = 0;", Category: coverage.FullyCovered},
		coverage.Line{Number: 5, Text: "if (x > 2) {", Category: coverage.FullyCovered},
		coverage.Line{Number: 6, Text: "x++;", Category: coverage.FullyCovered},
		coverage.Line{Number: 7, Text: "return x;", Category: coverage.NotCovered},
	)
}

type harness struct {
	t       *testing.T
	ws      string
	git     *historytest.Repo
	store   *storage.MemoryRepository
	catalog *catalog.Loader
	events  *recorder
	engine  *Engine
}

func newHarness(t *testing.T) *harness {
	ws := t.TempDir()
	logger := zaptest.NewLogger(t).Sugar()

	cat := catalog.NewLoader(logger)
	require.NoError(t, cat.AddProject(&models.Project{Name: "demo", Activated: true, Teams: []string{"red", "blue"}, Workspace: ws}))
	require.NoError(t, cat.AddProject(&models.Project{Name: "idle", Workspace: ws}))
	require.NoError(t, cat.SetUsers([]models.User{jane, adam}))

	reader, err := coverage.NewReader(16, logger)
	require.NoError(t, err)

	store := storage.NewMemoryRepository()
	now := func() time.Time { return clock }
	factory := challenge.NewFactory(reader, fixedRand{}, challenge.DefaultFactoryConfig(), logger, challenge.WithClock(now))
	events := &recorder{}

	e := New(store, cat, statistics.NewService(store, 0, logger), factory, reader, Config{}, logger,
		WithNotifier(events),
		WithClock(now),
	)

	return &harness{
		t:       t,
		ws:      ws,
		git:     historytest.Init(t, ws),
		store:   store,
		catalog: cat,
		events:  events,
		engine:  e,
	}
}

func (h *harness) commitFoo() {
	h.git.Commit(janeAuthor, "add Foo", map[string]string{
		"src/main/java/com/example/Foo.java":     "public class Foo {}\n",
		"src/test/java/com/example/FooTest.java": "public class FooTest {}\n",
	})
}

func (h *harness) participation(user string) *challenge.Participation {
	p, err := h.store.GetParticipation(context.Background(), "demo", user)
	require.NoError(h.t, err)
	require.NotNil(h.t, p)
	return p
}

func descriptions(list []challenge.Challenge) []string {
	var out []string
	for _, c := range list {
		out = append(out, c.String())
	}
	return out
}

const fooChallenge = "Write a test to cover more lines in class Foo in package com.example (created for branch master)"

func TestRunForBuild_FillsQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.commitFoo()
	coveragetest.Write(t, h.ws, partlyCovered())
	coveragetest.WriteJUnit(t, h.ws, "FooTest", 5)

	_, err := h.engine.Join(ctx, "demo", "jane", "red")
	require.NoError(t, err)
	_, err = h.engine.Join(ctx, "demo", "adam", "blue")
	require.NoError(t, err)

	summary, err := h.engine.RunForBuild(ctx, models.Build{Project: "demo", Number: 1, Result: models.ResultSuccess})
	require.NoError(t, err)
	assert.Equal(t, models.RunSummary{Generated: 1, Solved: 0}, summary)

	p := h.participation("jane")
	require.Len(t, p.Current, 3)
	assert.Equal(t, []string{
		fooChallenge,
		"You have nothing developed recently",
		"You have nothing developed recently",
	}, descriptions(p.Current), "duplicates fall back to placeholders")

	other := h.participation("adam")
	require.Len(t, other.Current, 3)
	for _, c := range other.Current {
		assert.True(t, challenge.IsDummy(c), "users without changed classes get placeholders")
	}

	entries, err := h.store.ListRunEntries(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "master", entries[0].Branch)
	assert.Equal(t, 1, entries[0].Generated)
	assert.Equal(t, 5, entries[0].TestCount)
	assert.InDelta(t, 0.4, entries[0].Coverage, 1e-9)

	assert.Contains(t, h.events.types(), models.EventGenerated)
	assert.Contains(t, h.events.types(), models.EventRun)
}

func TestRunForBuild_SolvesAndRegenerates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.commitFoo()
	coveragetest.Write(t, h.ws, partlyCovered())
	_, err := h.engine.Join(ctx, "demo", "jane", "red")
	require.NoError(t, err)

	_, err = h.engine.RunForBuild(ctx, models.Build{Project: "demo", Number: 1, Result: models.ResultSuccess})
	require.NoError(t, err)

	coveragetest.Write(t, h.ws, mostlyCovered())
	summary, err := h.engine.RunForBuild(ctx, models.Build{Project: "demo", Number: 2, Result: models.ResultSuccess})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Solved, "placeholders are not counted")
	assert.Equal(t, 1, summary.Generated)

	p := h.participation("jane")
	assert.Equal(t, 1, p.Score)
	require.Len(t, p.Completed, 1)
	assert.Equal(t, fooChallenge, p.Completed[0].String())
	assert.True(t, clock.Equal(p.Completed[0].SolvedAt()))
	require.Len(t, p.Current, 3)

	cc, ok := p.Current[0].(*challenge.ClassCoverageChallenge)
	require.True(t, ok)
	assert.InDelta(t, 0.95, cc.Coverage(), 1e-9, "new challenge snapshots the new coverage")

	entries, err := h.store.ListRunEntries(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[1].Solved)
}

func TestRunForBuild_BuildChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.commitFoo()
	_, err := h.engine.Join(ctx, "demo", "jane", "red")
	require.NoError(t, err)
	_, err = h.engine.Join(ctx, "demo", "adam", "blue")
	require.NoError(t, err)

	summary, err := h.engine.RunForBuild(ctx, models.Build{Project: "demo", Number: 1, Result: models.ResultFailure})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Generated)

	p := h.participation("jane")
	assert.True(t, p.HasCurrentKind(challenge.KindBuild), "HEAD author is blamed")
	assert.False(t, h.participation("adam").HasCurrentKind(challenge.KindBuild))

	// a second failure does not add another one
	_, err = h.engine.RunForBuild(ctx, models.Build{Project: "demo", Number: 2, Result: models.ResultFailure, AuthorName: "Jane Doe"})
	require.NoError(t, err)
	count := 0
	for _, c := range h.participation("jane").Current {
		if c.Kind() == challenge.KindBuild {
			count++
		}
	}
	assert.Equal(t, 1, count)

	summary, err = h.engine.RunForBuild(ctx, models.Build{Project: "demo", Number: 3, Result: models.ResultSuccess})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Solved)
	p = h.participation("jane")
	assert.Equal(t, 1, p.Score)
	assert.False(t, p.HasCurrentKind(challenge.KindBuild))
}

func TestRunForBuild_RejectsUnsolvable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.commitFoo()

	p := challenge.NewParticipation("jane", "demo", "red")
	stale := challenge.NewTestChallenge("abc", "feature", 0, clock)
	p.Add(stale)
	require.NoError(t, h.store.SaveParticipation(ctx, p))

	_, err := h.engine.RunForBuild(ctx, models.Build{
		Project:  "demo",
		Number:   1,
		Result:   models.ResultSuccess,
		Branches: []string{"master"},
	})
	require.NoError(t, err)

	p = h.participation("jane")
	require.Len(t, p.Rejected, 1)
	assert.Equal(t, stale.ID(), p.Rejected[0].Challenge.ID())
	assert.Equal(t, NotSolvable, p.Rejected[0].Reason)
	assert.Len(t, p.Current, 3)
	assert.Contains(t, h.events.types(), models.EventRejected)
}

func TestRunForBuild_NotActivated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	summary, err := h.engine.RunForBuild(ctx, models.Build{Project: "idle", Number: 4, Branch: "main", Result: models.ResultSuccess})
	require.NoError(t, err)
	assert.Zero(t, summary)

	builds, err := h.store.ListBuilds(ctx, "idle")
	require.NoError(t, err)
	assert.Len(t, builds, 1, "builds are recorded for later backfill")

	entries, err := h.store.ListRunEntries(ctx, "idle")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunForBuild_UnknownProject(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.RunForBuild(context.Background(), models.Build{Project: "nope", Number: 1})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestRunForBuild_ScanFailureSkipsGeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.Join(ctx, "demo", "jane", "red")
	require.NoError(t, err)

	summary, err := h.engine.RunForBuild(ctx, models.Build{
		Project:   "demo",
		Number:    1,
		Branch:    "main",
		Result:    models.ResultSuccess,
		Workspace: t.TempDir(),
	})
	require.NoError(t, err, "scan failures never fail the build")
	assert.Zero(t, summary)
	assert.Empty(t, h.participation("jane").Current)

	entries, err := h.store.ListRunEntries(ctx, "demo")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunForBuild_BackfillsMissingRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.commitFoo()

	for _, n := range []int{1, 2, 3} {
		require.NoError(t, h.store.RecordBuild(ctx, models.Build{Project: "demo", Number: n, Branch: "master", Result: models.ResultSuccess, StartedAt: clock}))
	}
	require.NoError(t, h.store.AddRunEntries(ctx, "demo", []models.RunEntry{{Number: 1, Branch: "master"}}))

	_, err := h.engine.RunForBuild(ctx, models.Build{Project: "demo", Number: 4, Result: models.ResultSuccess})
	require.NoError(t, err)

	entries, err := h.store.ListRunEntries(ctx, "demo")
	require.NoError(t, err)
	var numbers []int
	for _, e := range entries {
		numbers = append(numbers, e.Number)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, numbers)
}

func TestJoinLeave(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Join(ctx, "demo", "jane", "green")
	assert.ErrorIs(t, err, ErrUnknownTeam)
	_, err = h.engine.Join(ctx, "demo", "ghost", "red")
	assert.ErrorIs(t, err, ErrUnknownUser)
	_, err = h.engine.Join(ctx, "nope", "jane", "red")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	p, err := h.engine.Join(ctx, "demo", "jane", "red")
	require.NoError(t, err)
	p.Score = 7
	require.NoError(t, h.store.SaveParticipation(ctx, p))

	p, err = h.engine.Join(ctx, "demo", "jane", "blue")
	require.NoError(t, err)
	assert.Equal(t, "blue", p.Team)
	assert.Equal(t, 7, p.Score, "switching team keeps the score")

	require.NoError(t, h.engine.Leave(ctx, "demo", "jane"))
	assert.ErrorIs(t, h.engine.Leave(ctx, "demo", "jane"), ErrNotParticipating)
}

func TestRejectChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.RejectChallenge(ctx, "demo", "jane", "x", "too hard")
	assert.ErrorIs(t, err, ErrNotParticipating)

	p := challenge.NewParticipation("jane", "demo", "red")
	c := challenge.NewTestChallenge("abc", "main", 3, clock)
	p.Add(c)
	require.NoError(t, h.store.SaveParticipation(ctx, p))

	_, err = h.engine.RejectChallenge(ctx, "demo", "jane", c.ID(), "")
	assert.ErrorIs(t, err, ErrReasonRequired)
	_, err = h.engine.RejectChallenge(ctx, "demo", "jane", "missing", "too hard")
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	got, err := h.engine.RejectChallenge(ctx, "demo", "jane", c.ID(), "   ")
	require.NoError(t, err)
	assert.Equal(t, c.ID(), got.ID())

	view, err := h.engine.Challenges(ctx, "demo", "jane")
	require.NoError(t, err)
	assert.Empty(t, view.Current)
	require.Len(t, view.Rejected, 1)
	assert.Equal(t, "No reason provided", view.Rejected[0].Reason)
	assert.Equal(t, "test", view.Rejected[0].Kind)

	_, err = h.engine.Challenges(ctx, "demo", "adam")
	assert.True(t, errors.Is(err, ErrNotParticipating))
}

func TestLeaderboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	save := func(user, team string, score, completed int) {
		p := challenge.NewParticipation(user, "demo", team)
		for i := 0; i < completed; i++ {
			c := challenge.NewBuildChallenge(clock)
			p.Add(c)
			p.Complete(c.ID())
		}
		p.Score = score
		require.NoError(t, h.store.SaveParticipation(ctx, p))
	}
	save("jane", "red", 5, 2)
	save("adam", "blue", 5, 3)
	save("eve", "red", 1, 1)

	board, err := h.engine.Leaderboard(ctx, "demo")
	require.NoError(t, err)

	require.Len(t, board.Users, 3)
	assert.Equal(t, "Adam Smith", board.Users[0].Name, "ties are broken by completed challenges")
	assert.Equal(t, "Jane Doe", board.Users[1].Name)
	assert.Equal(t, "eve", board.Users[2].Name, "users outside the directory keep their id")

	require.Len(t, board.Teams, 2)
	assert.Equal(t, models.LeaderboardEntry{Name: "red", Score: 6, CompletedChallenge: 3}, board.Teams[0])
	assert.Equal(t, models.LeaderboardEntry{Name: "blue", Score: 5, CompletedChallenge: 3}, board.Teams[1])
}

func TestUserLockSerialisesWork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	unlock, err := h.engine.locker.Lock(ctx, lockKey("demo", "jane"))
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = h.engine.Join(short, "demo", "jane", "red")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	_, err = h.engine.Join(ctx, "demo", "jane", "red")
	assert.NoError(t, err)
}
