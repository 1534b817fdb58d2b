package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/terra-clan/challenge-engine/internal/coverage"
)

// Target is the class a coverage challenge is generated for
type Target struct {
	Class     *coverage.ClassDetails
	Branch    string
	Workspace string
	Reader    *coverage.Reader
	Rand      Rand
	Now       time.Time
}

func (t Target) sourceReport() (*coverage.SourceReport, error) {
	if t.Class == nil || t.Reader == nil {
		return nil, fmt.Errorf("incomplete challenge target")
	}
	report, err := t.Reader.SourceReport(coverage.Resolve(t.Workspace, t.Class.SourceReport))
	if err != nil {
		return nil, fmt.Errorf("failed to read source report of %s: %w", t.Class.QualifiedName(), err)
	}
	return report, nil
}

// coverageBase is the snapshot shared by the class, method and line challenges
type coverageBase struct {
	header
	class          coverage.ClassDetails
	branch         string
	coverage       float64
	fullyCovered   int
	partially      int
	notCovered     int
	solvedCoverage float64
}

func newCoverageBase(t Target, report *coverage.SourceReport) coverageBase {
	return coverageBase{
		header:       newHeader(t.Now),
		class:        *t.Class,
		branch:       t.Branch,
		coverage:     t.Class.Coverage,
		fullyCovered: report.Count(coverage.FullyCovered),
		partially:    report.Count(coverage.PartiallyCovered),
		notCovered:   report.Count(coverage.NotCovered),
	}
}

// Class returns the class the challenge was generated for
func (b *coverageBase) Class() coverage.ClassDetails { return b.class }

// Branch returns the branch the challenge was generated for
func (b *coverageBase) Branch() string { return b.branch }

// Coverage returns the class coverage at generation time
func (b *coverageBase) Coverage() float64 { return b.coverage }

// SolvedCoverage returns the class coverage at the time the challenge was solved
func (b *coverageBase) SolvedCoverage() float64 { return b.solvedCoverage }

func (b *coverageBase) location() string {
	return fmt.Sprintf("class %s in package %s (created for branch %s)", b.class.ClassName, b.class.PackageName, b.branch)
}

func (b *coverageBase) currentRatio(env *Env) float64 {
	return env.Reader.CoverageRatio(b.class.QualifiedName(), env.path(b.class.SummaryCSV))
}

func (b *coverageBase) markSolved(env *Env, ratio float64) {
	b.solved = env.now()
	b.solvedCoverage = ratio
}

// comparable reports whether the build's reports describe the challenge's branch
func (b *coverageBase) comparable(env *Env) bool {
	return env.Reader != nil && env.Build.Branch == b.branch
}

func (b *coverageBase) xml(kind Kind, reason string) string {
	return xmlLine(kind.ElementName(), withReason([]string{
		"created", millis(b.created),
		"solved", millis(b.solved),
		"class", b.class.ClassName,
		"coverage", FormatDouble(b.coverage),
		"coverageAtSolved", FormatDouble(b.solvedCoverage),
	}, reason)...)
}

// ClassCoverageChallenge asks for more covered lines in one class
type ClassCoverageChallenge struct {
	coverageBase
}

// NewClassCoverageChallenge snapshots the class report. It fails with
// ErrNothingToCover when the class has no partially or not covered lines.
func NewClassCoverageChallenge(t Target) (*ClassCoverageChallenge, error) {
	report, err := t.sourceReport()
	if err != nil {
		return nil, err
	}
	if !report.HasUncovered() {
		return nil, fmt.Errorf("class %s: %w", t.Class.QualifiedName(), ErrNothingToCover)
	}
	return &ClassCoverageChallenge{coverageBase: newCoverageBase(t, report)}, nil
}

func (c *ClassCoverageChallenge) Kind() Kind { return KindClassCoverage }

func (c *ClassCoverageChallenge) Score() int {
	if c.coverage >= 0.8 {
		return 2
	}
	return 1
}

func (c *ClassCoverageChallenge) String() string {
	return "Write a test to cover more lines in " + c.location()
}

func (c *ClassCoverageChallenge) IsSolved(_ context.Context, env *Env) bool {
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
	if report.Count(coverage.FullyCovered) <= c.fullyCovered {
		return false
	}
	ratio := c.currentRatio(env)
	if ratio <= c.coverage {
		return false
	}

	c.markSolved(env, ratio)
	return true
}

func (c *ClassCoverageChallenge) IsSolvable(_ context.Context, env *Env) bool {
	if !c.comparable(env) {
		return true
	}

	report, err := env.Reader.SourceReport(env.path(c.class.SourceReport))
	if err != nil {
		return env.artifactFailure(c, err)
	}
	return report.HasUncovered()
}

func (c *ClassCoverageChallenge) XML(reason string) string {
	return c.xml(KindClassCoverage, reason)
}
