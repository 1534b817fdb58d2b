// Package statistics keeps the per-build run entries of a project and
// exports them together with the game state as XML.
package statistics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/models"
)

// DefaultBackfillLimit bounds how many earlier runs are synthesised for one entry
const DefaultBackfillLimit = 200

// Store is the persistence the statistics need
type Store interface {
	ListBuilds(ctx context.Context, project string) ([]models.Build, error)
	ListRunEntries(ctx context.Context, project string) ([]models.RunEntry, error)
	AddRunEntries(ctx context.Context, project string, entries []models.RunEntry) error
	ListParticipations(ctx context.Context, project string) ([]*challenge.Participation, error)
}

// Service records run entries
type Service struct {
	store  Store
	limit  int
	logger *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a statistics service that backfills at most limit runs per entry
func NewService(store Store, limit int, logger *zap.SugaredLogger) *Service {
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:  store,
		limit:  limit,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock serialises read-modify-append cycles per project
func (s *Service) lock(project string) func() {
	s.mu.Lock()
	m, ok := s.locks[project]
	if !ok {
		m = &sync.Mutex{}
		s.locks[project] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// AddRunEntry appends entry after synthesising entries for the earlier runs
// of its branch that have a recorded build but no entry, within the backfill
// window [max(1, number-limit), number-1].
func (s *Service) AddRunEntry(ctx context.Context, project string, entry models.RunEntry) error {
	defer s.lock(project)()

	existing, builds, err := s.load(ctx, project)
	if err != nil {
		return err
	}

	missing := s.backfill(existing, builds, entry.Branch, entry.Number-1)
	if !has(existing, entry.Branch, entry.Number) {
		missing = append(missing, entry)
	}

	if err := s.store.AddRunEntries(ctx, project, missing); err != nil {
		return fmt.Errorf("failed to add run entries: %w", err)
	}

	if len(missing) > 1 {
		s.logger.Infow("backfilled run entries",
			"project", project,
			"branch", entry.Branch,
			"run", entry.Number,
			"count", len(missing)-1,
		)
	}
	s.logger.Debugw("run entry recorded", "project", project, "entry", RunXML(entry))
	return nil
}

// Repair synthesises missing entries up to the last recorded build of every
// branch and returns how many were added
func (s *Service) Repair(ctx context.Context, project string) (int, error) {
	defer s.lock(project)()

	existing, builds, err := s.load(ctx, project)
	if err != nil {
		return 0, err
	}

	last := make(map[string]int)
	for _, b := range builds {
		if b.Number > last[b.Branch] {
			last[b.Branch] = b.Number
		}
	}
	branches := make([]string, 0, len(last))
	for branch := range last {
		branches = append(branches, branch)
	}
	sort.Strings(branches)

	var missing []models.RunEntry
	for _, branch := range branches {
		missing = append(missing, s.backfill(existing, builds, branch, last[branch])...)
	}
	if len(missing) == 0 {
		return 0, nil
	}

	if err := s.store.AddRunEntries(ctx, project, missing); err != nil {
		return 0, fmt.Errorf("failed to add run entries: %w", err)
	}
	return len(missing), nil
}

func (s *Service) load(ctx context.Context, project string) ([]models.RunEntry, []models.Build, error) {
	existing, err := s.store.ListRunEntries(ctx, project)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list run entries: %w", err)
	}
	builds, err := s.store.ListBuilds(ctx, project)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list builds: %w", err)
	}
	return existing, builds, nil
}

// backfill returns entries for every run of branch in the window ending at
// upTo that has a recorded build and no entry
func (s *Service) backfill(existing []models.RunEntry, builds []models.Build, branch string, upTo int) []models.RunEntry {
	recorded := make(map[int]models.Build)
	for _, b := range builds {
		if b.Branch == branch {
			recorded[b.Number] = b
		}
	}

	from := upTo + 1 - s.limit
	if from < 1 {
		from = 1
	}

	var out []models.RunEntry
	for n := from; n <= upTo; n++ {
		if has(existing, branch, n) {
			continue
		}
		b, ok := recorded[n]
		if !ok {
			continue
		}
		out = append(out, entryFromBuild(b))
	}
	return out
}

func entryFromBuild(b models.Build) models.RunEntry {
	e := models.RunEntry{
		Number:    b.Number,
		Branch:    b.Branch,
		Result:    b.Result,
		StartTime: b.StartedAt,
	}
	if b.TestCount != nil {
		e.TestCount = *b.TestCount
	}
	return e
}

func has(entries []models.RunEntry, branch string, number int) bool {
	for _, e := range entries {
		if e.Branch == branch && e.Number == number {
			return true
		}
	}
	return false
}

// SortRunEntries orders entries by branch, then run number
func SortRunEntries(entries []models.RunEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Branch != entries[j].Branch {
			return entries[i].Branch < entries[j].Branch
		}
		return entries[i].Number < entries[j].Number
	})
}

// RunXML renders one run entry
func RunXML(e models.RunEntry) string {
	result := string(e.Result)
	if result == "" {
		result = "NULL"
	}
	var b strings.Builder
	b.WriteString(`<Run number="`)
	b.WriteString(strconv.Itoa(e.Number))
	b.WriteString(`" branch="`)
	b.WriteString(escape(e.Branch))
	b.WriteString(`" result="`)
	b.WriteString(result)
	b.WriteString(`" startTime="`)
	if e.StartTime.IsZero() {
		b.WriteString("0")
	} else {
		b.WriteString(strconv.FormatInt(e.StartTime.UnixMilli(), 10))
	}
	b.WriteString(`" generatedChallenges="`)
	b.WriteString(strconv.Itoa(e.Generated))
	b.WriteString(`" solvedChallenges="`)
	b.WriteString(strconv.Itoa(e.Solved))
	b.WriteString(`" tests="`)
	b.WriteString(strconv.Itoa(e.TestCount))
	b.WriteString(`" coverage="`)
	b.WriteString(challenge.FormatDouble(e.Coverage))
	b.WriteString(`"/>`)
	return b.String()
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string {
	return escaper.Replace(s)
}
