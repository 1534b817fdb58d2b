// Package challenge implements the challenge variants, their lifecycle checks,
// per-user participation state and the selection algorithm that generates them.
package challenge

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/coverage"
	"github.com/terra-clan/challenge-engine/internal/history"
	"github.com/terra-clan/challenge-engine/internal/models"
)

// Kind discriminates the challenge variants
type Kind string

const (
	KindBuild          Kind = "build"
	KindTest           Kind = "test"
	KindClassCoverage  Kind = "class_coverage"
	KindMethodCoverage Kind = "method_coverage"
	KindLineCoverage   Kind = "line_coverage"
	KindDummy          Kind = "dummy"
)

// ElementName returns the XML element used for the kind in audit logs
func (k Kind) ElementName() string {
	switch k {
	case KindBuild:
		return "BuildChallenge"
	case KindTest:
		return "TestChallenge"
	case KindClassCoverage:
		return "ClassCoverageChallenge"
	case KindMethodCoverage:
		return "MethodCoverageChallenge"
	case KindLineCoverage:
		return "LineCoverageChallenge"
	default:
		return "DummyChallenge"
	}
}

var (
	// ErrNothingToCover means the class offers no target for the requested kind
	ErrNothingToCover = errors.New("nothing left to cover")
	// ErrUnknownKind is returned when decoding an unrecognized challenge kind
	ErrUnknownKind = errors.New("unknown challenge kind")
)

// Challenge is one task assigned to one user in one project.
// The set of implementations is closed.
type Challenge interface {
	ID() string
	Kind() Kind
	CreatedAt() time.Time
	// SolvedAt is zero until the challenge is solved
	SolvedAt() time.Time
	Score() int
	// String renders the description; equal descriptions denote the same challenge
	String() string
	IsSolved(ctx context.Context, env *Env) bool
	IsSolvable(ctx context.Context, env *Env) bool
	// XML renders the audit log line, with reason when non-empty
	XML(reason string) string

	record() record
}

// History is the part of the commit history scanner lifecycle checks use
type History interface {
	Head() (history.Commit, error)
	ChangedTestPaths(ctx context.Context, user models.User, users []models.User, commitLimit int, stopAt string) ([]string, error)
}

// Env is the state of the current build a challenge is evaluated against
type Env struct {
	Build       models.Build
	TestCount   int
	Reader      *coverage.Reader
	History     History
	User        models.User
	Users       []models.User
	CommitLimit int
	Now         func() time.Time
	Logger      *zap.SugaredLogger
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) log() *zap.SugaredLogger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop().Sugar()
}

func (e *Env) path(rel string) string {
	return coverage.Resolve(e.Build.Workspace, rel)
}

// artifactFailure logs a failed report read and reports whether the artifact is missing
func (e *Env) artifactFailure(c Challenge, err error) bool {
	missing := errors.Is(err, coverage.ErrArtifactMissing)
	if missing {
		e.log().Infow("coverage artifact missing", "challenge", c.String(), "error", err)
	} else {
		e.log().Warnw("coverage artifact unreadable", "challenge", c.String(), "error", err)
	}
	return missing
}

type header struct {
	id      string
	created time.Time
	solved  time.Time
}

func newHeader(now time.Time) header {
	return header{id: uuid.NewString(), created: now}
}

func (h *header) ID() string           { return h.id }
func (h *header) CreatedAt() time.Time { return h.created }
func (h *header) SolvedAt() time.Time  { return h.solved }

func (h *header) isSolved() bool { return !h.solved.IsZero() }

// SameAs reports whether two challenges have the same description
func SameAs(a, b Challenge) bool {
	return a != nil && b != nil && a.String() == b.String()
}

// millis renders an optional timestamp as epoch milliseconds, zero when unset
func millis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// FormatDouble prints a float in the audit log notation: "0.5", "1.0", "5.0E-4"
func FormatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}

	abs := math.Abs(f)
	if f != 0 && (abs < 1e-3 || abs >= 1e7) {
		s := strconv.FormatFloat(f, 'E', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "E")
		if !strings.Contains(mantissa, ".") {
			mantissa += ".0"
		}
		sign := ""
		if strings.HasPrefix(exp, "-") {
			sign = "-"
		}
		exp = strings.TrimLeft(exp, "+-0")
		if exp == "" {
			exp = "0"
		}
		return mantissa + "E" + sign + exp
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// xmlLine assembles `<Element k="v" .../>` with attributes in the given order
func xmlLine(element string, attrs ...string) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(element)
	for i := 0; i+1 < len(attrs); i += 2 {
		b.WriteString(" ")
		b.WriteString(attrs[i])
		b.WriteString(`="`)
		b.WriteString(escapeAttr(attrs[i+1]))
		b.WriteString(`"`)
	}
	b.WriteString("/>")
	return b.String()
}

var attrEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"\n", "&#10;",
)

func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}

func withReason(attrs []string, reason string) []string {
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	return attrs
}
