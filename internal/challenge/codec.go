package challenge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/terra-clan/challenge-engine/internal/coverage"
)

// record is the persisted form of every challenge variant
type record struct {
	Kind      Kind       `json:"kind"`
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	SolvedAt  *time.Time `json:"solved_at,omitempty"`

	// test
	Commit          string `json:"commit,omitempty"`
	TestCount       int    `json:"test_count,omitempty"`
	TestCountSolved int    `json:"test_count_solved,omitempty"`

	// test and coverage kinds
	Branch string `json:"branch,omitempty"`

	// coverage kinds
	Class            *coverage.ClassDetails `json:"class,omitempty"`
	Coverage         float64                `json:"coverage,omitempty"`
	FullyCovered     int                    `json:"fully_covered,omitempty"`
	PartiallyCovered int                    `json:"partially_covered,omitempty"`
	NotCovered       int                    `json:"not_covered,omitempty"`
	SolvedCoverage   float64                `json:"solved_coverage,omitempty"`

	// method
	Method      string `json:"method,omitempty"`
	Lines       int    `json:"lines,omitempty"`
	MissedLines int    `json:"missed_lines,omitempty"`

	// line
	Line            int               `json:"line,omitempty"`
	Text            string            `json:"text,omitempty"`
	Category        coverage.Category `json:"category,omitempty"`
	CoveredBranches int               `json:"covered_branches,omitempty"`
	TotalBranches   int               `json:"total_branches,omitempty"`
}

func (h *header) fill(kind Kind) record {
	r := record{Kind: kind, ID: h.id, CreatedAt: h.created}
	if !h.solved.IsZero() {
		solved := h.solved
		r.SolvedAt = &solved
	}
	return r
}

func headerFrom(r record) header {
	h := header{id: r.ID, created: r.CreatedAt}
	if r.SolvedAt != nil {
		h.solved = *r.SolvedAt
	}
	return h
}

func (b *coverageBase) fill(kind Kind) record {
	r := b.header.fill(kind)
	class := b.class
	r.Class = &class
	r.Branch = b.branch
	r.Coverage = b.coverage
	r.FullyCovered = b.fullyCovered
	r.PartiallyCovered = b.partially
	r.NotCovered = b.notCovered
	r.SolvedCoverage = b.solvedCoverage
	return r
}

func coverageBaseFrom(r record) (coverageBase, error) {
	if r.Class == nil {
		return coverageBase{}, fmt.Errorf("%s challenge %s without class", r.Kind, r.ID)
	}
	return coverageBase{
		header:         headerFrom(r),
		class:          *r.Class,
		branch:         r.Branch,
		coverage:       r.Coverage,
		fullyCovered:   r.FullyCovered,
		partially:      r.PartiallyCovered,
		notCovered:     r.NotCovered,
		solvedCoverage: r.SolvedCoverage,
	}, nil
}

func (c *BuildChallenge) record() record { return c.header.fill(KindBuild) }
func (c *DummyChallenge) record() record { return c.header.fill(KindDummy) }

func (c *TestChallenge) record() record {
	r := c.header.fill(KindTest)
	r.Commit = c.commit
	r.Branch = c.branch
	r.TestCount = c.testCount
	r.TestCountSolved = c.testCountSolved
	return r
}

func (c *ClassCoverageChallenge) record() record { return c.coverageBase.fill(KindClassCoverage) }

func (c *MethodCoverageChallenge) record() record {
	r := c.coverageBase.fill(KindMethodCoverage)
	r.Method = c.method
	r.Lines = c.lines
	r.MissedLines = c.missedLines
	return r
}

func (c *LineCoverageChallenge) record() record {
	r := c.coverageBase.fill(KindLineCoverage)
	r.Line = c.line
	r.Text = c.text
	r.Category = c.category
	r.CoveredBranches = c.coveredBranches
	r.TotalBranches = c.totalBranches
	return r
}

func fromRecord(r record) (Challenge, error) {
	switch r.Kind {
	case KindBuild:
		return &BuildChallenge{header: headerFrom(r)}, nil
	case KindDummy:
		return &DummyChallenge{header: headerFrom(r)}, nil
	case KindTest:
		return &TestChallenge{
			header:          headerFrom(r),
			commit:          r.Commit,
			branch:          r.Branch,
			testCount:       r.TestCount,
			testCountSolved: r.TestCountSolved,
		}, nil
	case KindClassCoverage:
		base, err := coverageBaseFrom(r)
		if err != nil {
			return nil, err
		}
		return &ClassCoverageChallenge{coverageBase: base}, nil
	case KindMethodCoverage:
		base, err := coverageBaseFrom(r)
		if err != nil {
			return nil, err
		}
		return &MethodCoverageChallenge{
			coverageBase: base,
			method:       r.Method,
			lines:        r.Lines,
			missedLines:  r.MissedLines,
		}, nil
	case KindLineCoverage:
		base, err := coverageBaseFrom(r)
		if err != nil {
			return nil, err
		}
		return &LineCoverageChallenge{
			coverageBase:    base,
			line:            r.Line,
			text:            r.Text,
			category:        r.Category,
			coveredBranches: r.CoveredBranches,
			totalBranches:   r.TotalBranches,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
}

// Encode serializes a challenge with its kind discriminator
func Encode(c Challenge) ([]byte, error) {
	data, err := json.Marshal(c.record())
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", err)
	}
	return data, nil
}

// Decode restores a challenge written by Encode
func Decode(data []byte) (Challenge, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return fromRecord(r)
}

// Clone returns an independent copy of c
func Clone(c Challenge) Challenge {
	out, err := fromRecord(c.record())
	if err != nil {
		// records produced by a live challenge always decode
		panic(err)
	}
	return out
}
