package challenge

import (
	"context"
	"fmt"

	"github.com/terra-clan/challenge-engine/internal/coverage"
)

// LineCoverageChallenge asks to cover one specific line
type LineCoverageChallenge struct {
	coverageBase
	line            int
	text            string
	category        coverage.Category
	coveredBranches int
	totalBranches   int
}

// NewLineCoverageChallenge draws a target uniformly among the partially and
// not covered lines that are not structural.
func NewLineCoverageChallenge(t Target) (*LineCoverageChallenge, error) {
	report, err := t.sourceReport()
	if err != nil {
		return nil, err
	}
	candidates := report.Uncovered()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("lines of %s: %w", t.Class.QualifiedName(), ErrNothingToCover)
	}

	l := candidates[t.Rand.Intn(len(candidates))]
	covered, total := l.Branches()
	return &LineCoverageChallenge{
		coverageBase:    newCoverageBase(t, report),
		line:            l.Number,
		text:            l.Text,
		category:        l.Category,
		coveredBranches: covered,
		totalBranches:   total,
	}, nil
}

func (c *LineCoverageChallenge) Kind() Kind { return KindLineCoverage }

// Line returns the target line number and text
func (c *LineCoverageChallenge) Line() (int, string) { return c.line, c.text }

func (c *LineCoverageChallenge) Score() int {
	if c.coverage >= 0.8 || c.category == coverage.PartiallyCovered {
		return 3
	}
	return 2
}

func (c *LineCoverageChallenge) String() string {
	if c.totalBranches > 1 {
		return fmt.Sprintf("Write a test to cover more branches (currently %d of %d covered) of line %d in %s",
			c.coveredBranches, c.totalBranches, c.line, c.location())
	}
	return fmt.Sprintf("Write a test to fully cover line %d in %s", c.line, c.location())
}

// improved reports whether category is better than the snapshot category.
// A partially covered line must become fully covered.
func (c *LineCoverageChallenge) improved(category coverage.Category) bool {
	switch c.category {
	case coverage.PartiallyCovered:
		return category == coverage.FullyCovered
	case coverage.NotCovered:
		return category == coverage.FullyCovered || category == coverage.PartiallyCovered
	}
	return false
}

// locate finds the target line in the current report: the same number with
// the same text, otherwise the nearest line with the same text.
func (c *LineCoverageChallenge) locate(report *coverage.SourceReport) (coverage.Line, bool) {
	matches := report.WithText(c.text)
	if len(matches) == 0 {
		return coverage.Line{}, false
	}

	best := matches[0]
	for _, l := range matches {
		if l.Number == c.line {
			return l, true
		}
		if distance(l.Number, c.line) < distance(best.Number, c.line) {
			best = l
		}
	}
	return best, true
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func (c *LineCoverageChallenge) IsSolved(_ context.Context, env *Env) bool {
	if c.isSolved() {
		return true
	}
	if !c.comparable(env) {
		return false
	}

	report, err := env.Reader.SourceReport(env.path(c.class.SourceReport))
	if err != nil {
		env.artifactFailure(c, err)
		return false
	}
	l, found := c.locate(report)
	if !found || !c.improved(l.Category) {
		return false
	}

	c.markSolved(env, c.currentRatio(env))
	return true
}

func (c *LineCoverageChallenge) IsSolvable(_ context.Context, env *Env) bool {
	if !c.comparable(env) {
		return true
	}

	report, err := env.Reader.SourceReport(env.path(c.class.SourceReport))
	if err != nil {
		return env.artifactFailure(c, err)
	}
	for _, l := range report.WithText(c.text) {
		if l.Category != coverage.FullyCovered {
			return true
		}
	}
	return false
}

func (c *LineCoverageChallenge) XML(reason string) string {
	return c.xml(KindLineCoverage, reason)
}
