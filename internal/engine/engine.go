// Package engine runs the challenge game for every build a CI host reports.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/coverage"
	"github.com/terra-clan/challenge-engine/internal/history"
	"github.com/terra-clan/challenge-engine/internal/identity"
	"github.com/terra-clan/challenge-engine/internal/metrics"
	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/services"
	"github.com/terra-clan/challenge-engine/internal/statistics"
)

var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrUnknownUser       = errors.New("user not in directory")
	ErrUnknownTeam       = errors.New("team not configured for project")
	ErrNotParticipating  = errors.New("user does not participate in project")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrReasonRequired    = errors.New("rejection reason is required")
)

// Store is the persistence the engine needs
type Store interface {
	GetParticipation(ctx context.Context, project, userID string) (*challenge.Participation, error)
	ListParticipations(ctx context.Context, project string) ([]*challenge.Participation, error)
	SaveParticipation(ctx context.Context, p *challenge.Participation) error
	DeleteParticipation(ctx context.Context, project, userID string) error
	RecordBuild(ctx context.Context, b models.Build) error
}

// Catalog supplies project descriptors and the user directory
type Catalog interface {
	Project(name string) (*models.Project, bool)
	Users() []models.User
}

// Locker serialises work on one key
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Notifier receives challenge events
type Notifier interface {
	Publish(ctx context.Context, event models.Event) error
}

// Repository is the commit history of a workspace
type Repository interface {
	challenge.History
	Branch() (string, error)
	ChangedClasses(ctx context.Context, users []models.User, commitLimit int, newClass history.ClassFactory) ([]*coverage.ClassDetails, error)
}

// OpenFunc opens the repository containing a workspace
type OpenFunc func(workspace string) (Repository, error)

// Config holds the game constants of the driver
type Config struct {
	// Quota is the number of current challenges every participant keeps
	Quota int
	// CommitLimit bounds history scans when the project sets no search commit count
	CommitLimit int
	// UniquenessAttempts bounds how often a duplicate challenge is regenerated
	UniquenessAttempts int
	// Workers bounds how many users are processed in parallel
	Workers int
	// Extensions are the recognised source file extensions
	Extensions []string
}

// DefaultConfig returns the standard game constants
func DefaultConfig() Config {
	return Config{
		Quota:              3,
		CommitLimit:        history.DefaultCommitLimit,
		UniquenessAttempts: 3,
		Workers:            4,
		Extensions:         history.DefaultExtensions,
	}
}

// Engine is the build orchestration driver
type Engine struct {
	store    Store
	catalog  Catalog
	stats    *statistics.Service
	factory  *challenge.Factory
	reader   *coverage.Reader
	cfg      Config
	logger   *zap.SugaredLogger
	open     OpenFunc
	locker   Locker
	notifier Notifier
	now      func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithLocker replaces the in-process user lock, e.g. with a redis lock
func WithLocker(l Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithNotifier sets the receiver of challenge events
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithOpener replaces how workspaces are opened
func WithOpener(open OpenFunc) Option {
	return func(e *Engine) {
		e.open = open
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine
func New(store Store, catalog Catalog, stats *statistics.Service, factory *challenge.Factory, reader *coverage.Reader, cfg Config, logger *zap.SugaredLogger, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if cfg.Quota <= 0 {
		cfg.Quota = defaults.Quota
	}
	if cfg.CommitLimit <= 0 {
		cfg.CommitLimit = defaults.CommitLimit
	}
	if cfg.UniquenessAttempts <= 0 {
		cfg.UniquenessAttempts = defaults.UniquenessAttempts
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = defaults.Extensions
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	e := &Engine{
		store:   store,
		catalog: catalog,
		stats:   stats,
		factory: factory,
		reader:  reader,
		cfg:     cfg,
		logger:  logger,
		locker:  services.NewLocalLocker(),
		now:     time.Now,
	}
	e.open = e.openHistory
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) openHistory(workspace string) (Repository, error) {
	s, err := history.Open(workspace, history.WithExtensions(e.cfg.Extensions), history.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// run is the state shared by every user of one build
type run struct {
	project *models.Project
	build   models.Build

	repo    Repository
	head    string
	culprit string

	users       []models.User
	commitLimit int
	testCount   int

	classes []*coverage.ClassDetails
	scanErr error
}

type userResult struct {
	generated int
	solved    int
}

// RunForBuild processes one build notification. Only an unknown project is an
// error; every other failure degrades to fewer or no challenges.
func (e *Engine) RunForBuild(ctx context.Context, build models.Build) (models.RunSummary, error) {
	start := time.Now()
	defer func() {
		metrics.BuildProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	project, ok := e.catalog.Project(build.Project)
	if !ok {
		return models.RunSummary{}, fmt.Errorf("%w: %s", ErrProjectNotFound, build.Project)
	}
	if build.Workspace == "" {
		build.Workspace = project.Workspace
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = e.now().UTC()
	}

	r := &run{project: project, users: e.catalog.Users(), commitLimit: e.cfg.CommitLimit}
	if project.SearchCommitCount > 0 {
		r.commitLimit = project.SearchCommitCount
	}

	repo, err := e.open(build.Workspace)
	if err != nil {
		e.logger.Warnw("failed to open repository",
			"project", project.Name,
			"workspace", build.Workspace,
			"error", err,
		)
		r.scanErr = err
	} else {
		r.repo = repo
		if build.Branch == "" {
			if build.Branch, err = repo.Branch(); err != nil {
				e.logger.Warnw("failed to detect branch", "project", project.Name, "error", err)
			}
		}
	}
	r.build = build

	if err := e.store.RecordBuild(ctx, build); err != nil {
		e.logger.Errorw("failed to record build", "project", project.Name, "run", build.Number, "error", err)
	}
	metrics.BuildsProcessed.WithLabelValues(project.Name, string(build.Result)).Inc()

	if !project.Activated {
		e.logger.Infow("project not activated, skipping", "project", project.Name, "run", build.Number)
		return models.RunSummary{}, nil
	}

	r.testCount = e.testCount(build)
	e.scan(ctx, r)

	participations, err := e.store.ListParticipations(ctx, project.Name)
	if err != nil {
		e.logger.Errorw("failed to list participants", "project", project.Name, "error", err)
	}

	results := make([]userResult, len(participations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, p := range participations {
		g.Go(func() error {
			res, err := e.processUser(gctx, r, p.UserID)
			if err != nil {
				metrics.UserFailures.Inc()
				e.logger.Errorw("failed to process user",
					"project", project.Name,
					"user", p.UserID,
					"run", build.Number,
					"error", err,
				)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var summary models.RunSummary
	for _, res := range results {
		summary.Generated += res.generated
		summary.Solved += res.solved
	}

	entry := models.RunEntry{
		Number:    build.Number,
		Branch:    build.Branch,
		Result:    build.Result,
		StartTime: build.StartedAt,
		Generated: summary.Generated,
		Solved:    summary.Solved,
		TestCount: r.testCount,
		Coverage:  e.reader.ProjectCoverage(build.Workspace, path.Base(project.JacocoCSVPath)),
	}
	if err := e.stats.AddRunEntry(ctx, project.Name, entry); err != nil {
		e.logger.Errorw("failed to record run entry", "project", project.Name, "run", build.Number, "error", err)
	}
	e.notify(ctx, models.Event{Type: models.EventRun, Project: project.Name, Run: build.Number})

	e.logger.Infow("build processed",
		"project", project.Name,
		"branch", build.Branch,
		"run", build.Number,
		"result", build.Result,
		"participants", len(participations),
		"generated", summary.Generated,
		"solved", summary.Solved,
		"duration", time.Since(start),
	)
	return summary, nil
}

func (e *Engine) testCount(build models.Build) int {
	if build.TestCount != nil {
		return *build.TestCount
	}
	return e.reader.TestCount(build.Workspace)
}

// scan resolves the culprit of a failed build and collects the changed
// classes that still have something to cover
func (e *Engine) scan(ctx context.Context, r *run) {
	if r.repo == nil {
		return
	}

	author := identity.Author{Name: r.build.AuthorName, Email: r.build.AuthorEmail}
	head, err := r.repo.Head()
	if err != nil {
		e.logger.Warnw("failed to read HEAD", "project", r.project.Name, "error", err)
	} else {
		r.head = head.Hash
		if author.Name == "" && author.Email == "" {
			author = head.Author
		}
	}
	if u, ok := identity.Resolve(author, r.users); ok {
		r.culprit = u.ID
	}

	paths := coverage.ReportPaths{ResultsPath: r.project.JacocoResultsPath, CSVPath: r.project.JacocoCSVPath}
	workspace := r.build.Workspace
	classes, err := r.repo.ChangedClasses(ctx, r.users, r.commitLimit, func(p string) *coverage.ClassDetails {
		return coverage.NewClassDetails(workspace, p, paths, e.reader)
	})
	if err != nil {
		e.logger.Errorw("failed to scan history", "project", r.project.Name, "error", err)
		r.scanErr = err
		return
	}

	for _, c := range classes {
		if c.Coverage >= 1 || !c.ReportsExist(workspace) {
			continue
		}
		r.classes = append(r.classes, c)
	}
	r.classes = challenge.Worklist(r.classes)

	e.logger.Debugw("changed classes collected",
		"project", r.project.Name,
		"changed", len(classes),
		"eligible", len(r.classes),
	)
}

func (r *run) user(id string) models.User {
	for _, u := range r.users {
		if u.ID == id {
			return u
		}
	}
	return models.User{ID: id}
}

func (r *run) classesOf(userID string) []*coverage.ClassDetails {
	var out []*coverage.ClassDetails
	for _, c := range r.classes {
		if c.ChangedBy(userID) {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) notify(ctx context.Context, event models.Event) {
	if e.notifier == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = e.now().UTC()
	}
	if err := e.notifier.Publish(ctx, event); err != nil {
		e.logger.Warnw("failed to publish event", "project", event.Project, "event", event.Type, "error", err)
	}
}

func lockKey(project, userID string) string {
	return project + "/" + userID
}
