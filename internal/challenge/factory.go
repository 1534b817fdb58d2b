package challenge

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/coverage"
	"github.com/terra-clan/challenge-engine/internal/models"
)

// Rand is the randomness the factory draws from
type Rand interface {
	Float64() float64
	Intn(n int) int
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRand returns a goroutine-safe Rand seeded with seed
func NewRand(seed int64) Rand {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

// FactoryConfig holds the selection constants
type FactoryConfig struct {
	TestProbability float64
	RankBias        float64
	MaxAttempts     int
}

// DefaultFactoryConfig returns the standard selection constants
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		TestProbability: 0.1,
		RankBias:        1.5,
		MaxAttempts:     5,
	}
}

type constructor func(Target) (Challenge, error)

// constructors maps every coverage kind to its constructor
var constructors = map[Kind]constructor{
	KindClassCoverage: func(t Target) (Challenge, error) {
		return NewClassCoverageChallenge(t)
	},
	KindMethodCoverage: func(t Target) (Challenge, error) {
		return NewMethodCoverageChallenge(t)
	},
	KindLineCoverage: func(t Target) (Challenge, error) {
		return NewLineCoverageChallenge(t)
	},
}

// kindSlots weights the first kind tried 1:1:2
var kindSlots = []Kind{KindClassCoverage, KindMethodCoverage, KindLineCoverage, KindLineCoverage}

var coverageKinds = []Kind{KindClassCoverage, KindMethodCoverage, KindLineCoverage}

// Factory generates new challenges for users
type Factory struct {
	reader *coverage.Reader
	rnd    Rand
	cfg    FactoryConfig
	logger *zap.SugaredLogger
	now    func() time.Time
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithClock sets the time source for created challenges
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.now = now
	}
}

// NewFactory creates a factory
func NewFactory(reader *coverage.Reader, rnd Rand, cfg FactoryConfig, logger *zap.SugaredLogger, opts ...FactoryOption) *Factory {
	if rnd == nil {
		rnd = NewRand(time.Now().UnixNano())
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultFactoryConfig().MaxAttempts
	}
	if cfg.RankBias == 0 {
		cfg.RankBias = DefaultFactoryConfig().RankBias
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	f := &Factory{
		reader: reader,
		rnd:    rnd,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// GenerateRequest is the input of one generation
type GenerateRequest struct {
	User models.User
	// Classes the user changed recently
	Classes   []*coverage.ClassDetails
	Branch    string
	Workspace string
	// Head is the current commit hash
	Head      string
	TestCount int
	// Participation supplies previously rejected challenges; may be nil
	Participation *Participation
}

// Generate draws a new challenge for the user. It falls back to a
// DummyChallenge when nothing can be constructed.
func (f *Factory) Generate(ctx context.Context, req GenerateRequest) Challenge {
	now := f.now()

	if f.rnd.Float64() < f.cfg.TestProbability {
		return NewTestChallenge(req.Head, req.Branch, req.TestCount, now)
	}

	worklist := Worklist(req.Classes)
	for attempt := 0; attempt < f.cfg.MaxAttempts && len(worklist) > 0; attempt++ {
		if ctx.Err() != nil {
			break
		}

		i := pick(RankWeights(len(worklist), f.cfg.RankBias), f.rnd.Float64())
		class := worklist[i]
		worklist = append(worklist[:i:i], worklist[i+1:]...)

		if req.Participation != nil && req.Participation.RejectedClass(class) {
			continue
		}

		t := Target{
			Class:     class,
			Branch:    req.Branch,
			Workspace: req.Workspace,
			Reader:    f.reader,
			Rand:      f.rnd,
			Now:       now,
		}
		c := f.construct(t)
		if c == nil {
			continue
		}
		if req.Participation != nil && req.Participation.IsRejected(c) {
			f.logger.Debugw("generated challenge was rejected before",
				"user", req.User.ID,
				"challenge", c.String(),
			)
			continue
		}
		return c
	}

	return NewDummyChallenge(now)
}

// construct tries every coverage kind against t in a random order
func (f *Factory) construct(t Target) Challenge {
	first := kindSlots[f.rnd.Intn(len(kindSlots))]
	var rest []Kind
	for _, k := range coverageKinds {
		if k != first {
			rest = append(rest, k)
		}
	}

	c, err := constructors[first](t)
	if err == nil {
		return c
	}
	f.logFailure(t, first, err)

	if f.rnd.Intn(2) == 1 {
		rest[0], rest[1] = rest[1], rest[0]
	}
	for _, k := range rest {
		c, err := constructors[k](t)
		if err == nil {
			return c
		}
		f.logFailure(t, k, err)
	}
	return nil
}

func (f *Factory) logFailure(t Target, kind Kind, err error) {
	if errors.Is(err, ErrNothingToCover) {
		f.logger.Debugw("no challenge target", "class", t.Class.QualifiedName(), "kind", kind)
		return
	}
	f.logger.Warnw("failed to construct challenge",
		"class", t.Class.QualifiedName(),
		"kind", kind,
		"error", err,
	)
}

// Worklist keeps the classes below full coverage, most covered first.
// Ties keep their input order.
func Worklist(classes []*coverage.ClassDetails) []*coverage.ClassDetails {
	var out []*coverage.ClassDetails
	for _, c := range classes {
		if c != nil && c.Coverage < 1 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Coverage > out[j].Coverage
	})
	return out
}

// RankWeights returns the cumulative linear-ranking distribution over n
// ranks with bias c. Later ranks get higher weight when c > 1.
func RankWeights(n int, c float64) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{1}
	}

	cdf := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += (2 - c + 2*(c-1)*float64(i)/float64(n-1)) / float64(n)
		cdf[i] = sum
	}
	return cdf
}

// pick returns the first index whose cumulative weight exceeds draw, or the last one
func pick(cdf []float64, draw float64) int {
	for i, w := range cdf {
		if w > draw {
			return i
		}
	}
	return len(cdf) - 1
}
