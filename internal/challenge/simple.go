package challenge

import (
	"context"
	"strconv"
	"time"
)

// BuildChallenge asks the user to repair a failed build
type BuildChallenge struct {
	header
}

// NewBuildChallenge creates a build challenge at now
func NewBuildChallenge(now time.Time) *BuildChallenge {
	return &BuildChallenge{header: newHeader(now)}
}

func (c *BuildChallenge) Kind() Kind     { return KindBuild }
func (c *BuildChallenge) Score() int     { return 1 }
func (c *BuildChallenge) String() string { return "Let the Build run successfully" }

func (c *BuildChallenge) IsSolved(_ context.Context, env *Env) bool {
	if c.isSolved() {
		return true
	}
	if !env.Build.Result.IsSuccess() {
		return false
	}
	c.solved = env.now()
	return true
}

func (c *BuildChallenge) IsSolvable(context.Context, *Env) bool { return true }

func (c *BuildChallenge) XML(reason string) string {
	return xmlLine(KindBuild.ElementName(), withReason([]string{
		"created", millis(c.created),
		"solved", millis(c.solved),
	}, reason)...)
}

// TestChallenge asks the user to write any new test on a branch
type TestChallenge struct {
	header
	commit          string
	branch          string
	testCount       int
	testCountSolved int
}

// NewTestChallenge snapshots the HEAD commit and test count of branch
func NewTestChallenge(commit, branch string, testCount int, now time.Time) *TestChallenge {
	return &TestChallenge{
		header:    newHeader(now),
		commit:    commit,
		branch:    branch,
		testCount: testCount,
	}
}

func (c *TestChallenge) Kind() Kind     { return KindTest }
func (c *TestChallenge) Score() int     { return 1 }
func (c *TestChallenge) String() string { return "Write a new test in branch " + c.branch }

// Branch returns the branch the challenge was created for
func (c *TestChallenge) Branch() string { return c.branch }

func (c *TestChallenge) IsSolved(ctx context.Context, env *Env) bool {
	if c.isSolved() {
		return true
	}
	if env.Build.Branch != c.branch || env.TestCount <= c.testCount {
		return false
	}
	if env.History == nil {
		return false
	}

	paths, err := env.History.ChangedTestPaths(ctx, env.User, env.Users, env.CommitLimit, c.commit)
	if err != nil {
		env.log().Warnw("failed to read changed test files",
			"user", env.User.ID,
			"challenge", c.String(),
			"error", err,
		)
		return false
	}
	if len(paths) == 0 {
		return false
	}

	c.solved = env.now()
	c.testCountSolved = env.TestCount
	return true
}

func (c *TestChallenge) IsSolvable(_ context.Context, env *Env) bool {
	return env.Build.HasBranch(c.branch)
}

func (c *TestChallenge) XML(reason string) string {
	return xmlLine(KindTest.ElementName(), withReason([]string{
		"created", millis(c.created),
		"solved", millis(c.solved),
		"tests", strconv.Itoa(c.testCount),
		"testsAtSolved", strconv.Itoa(c.testCountSolved),
	}, reason)...)
}

// DummyChallenge fills a slot when nothing can be generated
type DummyChallenge struct {
	header
}

// NewDummyChallenge creates a placeholder challenge at now
func NewDummyChallenge(now time.Time) *DummyChallenge {
	return &DummyChallenge{header: newHeader(now)}
}

func (c *DummyChallenge) Kind() Kind     { return KindDummy }
func (c *DummyChallenge) Score() int     { return 0 }
func (c *DummyChallenge) String() string { return "You have nothing developed recently" }

func (c *DummyChallenge) IsSolved(context.Context, *Env) bool   { return true }
func (c *DummyChallenge) IsSolvable(context.Context, *Env) bool { return true }

func (c *DummyChallenge) XML(string) string {
	return "<" + KindDummy.ElementName() + "/>"
}

// IsDummy reports whether c is a placeholder
func IsDummy(c Challenge) bool {
	return c != nil && c.Kind() == KindDummy
}
