package challenge

import (
	"context"
	"fmt"

	"github.com/terra-clan/challenge-engine/internal/coverage"
)

// MethodCoverageChallenge asks for fewer missed lines in one method
type MethodCoverageChallenge struct {
	coverageBase
	method      string
	lines       int
	missedLines int
}

// NewMethodCoverageChallenge draws a method with missed lines uniformly from
// the class report. It fails with ErrNothingToCover when every method is covered.
func NewMethodCoverageChallenge(t Target) (*MethodCoverageChallenge, error) {
	report, err := t.sourceReport()
	if err != nil {
		return nil, err
	}
	methods, err := t.Reader.Methods(coverage.Resolve(t.Workspace, t.Class.MethodReport))
	if err != nil {
		return nil, fmt.Errorf("failed to read method report of %s: %w", t.Class.QualifiedName(), err)
	}

	var candidates []coverage.Method
	for _, m := range methods {
		if m.MissedLines > 0 {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("methods of %s: %w", t.Class.QualifiedName(), ErrNothingToCover)
	}

	m := candidates[t.Rand.Intn(len(candidates))]
	return &MethodCoverageChallenge{
		coverageBase: newCoverageBase(t, report),
		method:       m.Name,
		lines:        m.Lines,
		missedLines:  m.MissedLines,
	}, nil
}

func (c *MethodCoverageChallenge) Kind() Kind { return KindMethodCoverage }

// Method returns the name of the target method
func (c *MethodCoverageChallenge) Method() string { return c.method }

func (c *MethodCoverageChallenge) Score() int {
	if c.lines > 0 && float64(c.lines-c.missedLines)/float64(c.lines) > 0.8 {
		return 3
	}
	return 2
}

func (c *MethodCoverageChallenge) String() string {
	return "Write a test to cover more lines of method " + c.method + " in " + c.location()
}

func (c *MethodCoverageChallenge) current(env *Env) (coverage.Method, bool, error) {
	methods, err := env.Reader.Methods(env.path(c.class.MethodReport))
	if err != nil {
		return coverage.Method{}, false, err
	}
	for _, m := range methods {
		if m.Name == c.method {
			return m, true, nil
		}
	}
	return coverage.Method{}, false, nil
}

func (c *MethodCoverageChallenge) IsSolved(_ context.Context, env *Env) bool {
	if c.isSolved() {
		return true
	}
	if !c.comparable(env) {
		return false
	}

	m, found, err := c.current(env)
	if err != nil {
		env.artifactFailure(c, err)
		return false
	}
	if !found || m.MissedLines >= c.missedLines {
		return false
	}

	c.markSolved(env, c.currentRatio(env))
	return true
}

func (c *MethodCoverageChallenge) IsSolvable(_ context.Context, env *Env) bool {
	if !c.comparable(env) {
		return true
	}

	m, found, err := c.current(env)
	if err != nil {
		return env.artifactFailure(c, err)
	}
	return found && m.MissedLines > 0
}

func (c *MethodCoverageChallenge) XML(reason string) string {
	return c.xml(KindMethodCoverage, reason)
}
