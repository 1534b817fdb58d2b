// Package history walks a git repository to find the files each user changed recently.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/coverage"
	"github.com/terra-clan/challenge-engine/internal/identity"
	"github.com/terra-clan/challenge-engine/internal/models"
)

// DefaultCommitLimit is used when a non-positive commit limit is requested
const DefaultCommitLimit = 50

// safetyFactor bounds the number of visited commits relative to the commit limit
const safetyFactor = 5

// ErrRepositoryNotFound is returned when the workspace is not inside a git repository
var ErrRepositoryNotFound = errors.New("git repository not found")

// DefaultExtensions are the recognized source file extensions
var DefaultExtensions = []string{".java", ".kt"}

// Commit is the part of a git commit the engine needs
type Commit struct {
	Hash    string
	Author  identity.Author
	Message string
}

// Scanner reads the history of one repository
type Scanner struct {
	repo       *git.Repository
	extensions []string
	logger     *zap.SugaredLogger
}

// Option configures a Scanner
type Option func(*Scanner)

// WithExtensions sets the recognized source extensions
func WithExtensions(exts []string) Option {
	return func(s *Scanner) {
		if len(exts) > 0 {
			s.extensions = exts
		}
	}
}

// WithLogger sets the scanner logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// Open opens the repository containing workspace
func Open(workspace string, opts ...Option) (*Scanner, error) {
	repo, err := git.PlainOpenWithOptions(workspace, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrRepositoryNotFound, workspace)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	s := &Scanner{
		repo:       repo,
		extensions: DefaultExtensions,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Head returns the commit HEAD points to
func (s *Scanner) Head() (Commit, error) {
	ref, err := s.repo.Head()
	if err != nil {
		return Commit{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	c, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return Commit{}, fmt.Errorf("failed to read HEAD commit: %w", err)
	}
	return toCommit(c), nil
}

// Branch returns the checked out branch, or the HEAD hash when detached
func (s *Scanner) Branch() (string, error) {
	ref, err := s.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if ref.Name().IsBranch() {
		return ref.Name().Short(), nil
	}
	return ref.Hash().String(), nil
}

// ChangedPaths walks the history breadth first from HEAD and returns the
// paths changed by commits of user, in discovery order. The walk stops after
// commitLimit commits of user, after commitLimit*5 visited commits, or when it
// reaches stopAt or one of its parents.
func (s *Scanner) ChangedPaths(ctx context.Context, user models.User, users []models.User, commitLimit int, stopAt string) ([]string, error) {
	if commitLimit <= 0 {
		commitLimit = DefaultCommitLimit
	}

	head, err := s.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	boundary := make(map[plumbing.Hash]bool)
	if stopAt != "" {
		target := plumbing.NewHash(stopAt)
		if target == head.Hash() {
			return nil, nil
		}
		tc, err := s.repo.CommitObject(target)
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s: %w", stopAt, err)
		}
		boundary[target] = true
		for _, p := range tc.ParentHashes {
			boundary[p] = true
		}
	}

	resolver := identity.NewCache(users)
	visited := make(map[plumbing.Hash]bool)
	queue := []plumbing.Hash{head.Hash()}
	seenPath := make(map[string]bool)
	var paths []string
	userCommits, total := 0, 0

	for len(queue) > 0 && userCommits < commitLimit && total < commitLimit*safetyFactor {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hash := queue[0]
		queue = queue[1:]
		if visited[hash] || boundary[hash] {
			continue
		}
		visited[hash] = true
		total++

		c, err := s.repo.CommitObject(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
		}

		if u, ok := resolver.Resolve(authorOf(c)); ok && u.ID == user.ID {
			changes, err := s.diff(ctx, c)
			if err != nil {
				return nil, err
			}
			for _, ch := range changes {
				if !seenPath[ch.path] {
					seenPath[ch.path] = true
					paths = append(paths, ch.path)
				}
			}
			userCommits++
		}

		queue = append(queue, c.ParentHashes...)
	}

	s.logger.Debugw("scanned history",
		"user", user.ID,
		"visited", total,
		"user_commits", userCommits,
		"paths", len(paths),
	)
	return paths, nil
}

// ChangedTestPaths returns the test files user changed recently
func (s *Scanner) ChangedTestPaths(ctx context.Context, user models.User, users []models.User, commitLimit int, stopAt string) ([]string, error) {
	paths, err := s.ChangedPaths(ctx, user, users, commitLimit, stopAt)
	if err != nil {
		return nil, err
	}
	return TestPaths(paths, s.extensions), nil
}

// ClassFactory builds the class details of a changed source path
type ClassFactory func(path string) *coverage.ClassDetails

// ChangedClasses walks the last commitLimit commits from HEAD once and returns
// every source class changed in them, attributed to the users who changed it.
// Merge commits, deletions and unattributed commits are skipped.
func (s *Scanner) ChangedClasses(ctx context.Context, users []models.User, commitLimit int, newClass ClassFactory) ([]*coverage.ClassDetails, error) {
	if commitLimit <= 0 {
		commitLimit = DefaultCommitLimit
	}

	head, err := s.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	resolver := identity.NewCache(users)
	visited := make(map[plumbing.Hash]bool)
	queue := []plumbing.Hash{head.Hash()}
	byPath := make(map[string]*coverage.ClassDetails)
	var classes []*coverage.ClassDetails
	total := 0

	for len(queue) > 0 && total < commitLimit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hash := queue[0]
		queue = queue[1:]
		if visited[hash] {
			continue
		}
		visited[hash] = true
		total++

		c, err := s.repo.CommitObject(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
		}
		queue = append(queue, c.ParentHashes...)

		if c.NumParents() > 1 {
			continue
		}
		u, ok := resolver.Resolve(authorOf(c))
		if !ok {
			continue
		}

		changes, err := s.diff(ctx, c)
		if err != nil {
			return nil, err
		}
		for _, ch := range changes {
			if ch.deleted || !IsSource(ch.path, s.extensions) {
				continue
			}
			details, found := byPath[ch.path]
			if !found {
				details = newClass(ch.path)
				if details == nil {
					continue
				}
				byPath[ch.path] = details
				classes = append(classes, details)
			}
			details.AddUser(u.ID)
		}
	}

	s.logger.Debugw("collected changed classes", "visited", total, "classes", len(classes))
	return classes, nil
}

type change struct {
	path    string
	deleted bool
}

// diff compares c with its first parent, or with the empty tree for root commits
func (s *Scanner) diff(ctx context.Context, c *object.Commit) ([]change, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", c.Hash, err)
	}

	var parentTree *object.Tree
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("failed to read parent of %s: %w", c.Hash, err)
		}
		if parentTree, err = parent.Tree(); err != nil {
			return nil, fmt.Errorf("failed to read tree of %s: %w", parent.Hash, err)
		}
	}

	changes, err := object.DiffTreeWithOptions(ctx, parentTree, tree, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", c.Hash, err)
	}

	out := make([]change, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("failed to classify change in %s: %w", c.Hash, err)
		}
		if action == merkletrie.Delete {
			out = append(out, change{path: ch.From.Name, deleted: true})
			continue
		}
		out = append(out, change{path: ch.To.Name})
	}
	return out, nil
}

func authorOf(c *object.Commit) identity.Author {
	return identity.Author{Name: c.Author.Name, Email: c.Author.Email}
}

func toCommit(c *object.Commit) Commit {
	msg := c.Message
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return Commit{
		Hash:    c.Hash.String(),
		Author:  authorOf(c),
		Message: msg,
	}
}
