// Package historytest builds small git repositories for tests.
package historytest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/challenge-engine/internal/identity"
)

// Repo is a non-bare repository in a temporary directory
type Repo struct {
	Dir string

	t     testing.TB
	repo  *git.Repository
	wt    *git.Worktree
	clock time.Time
}

// Init creates a repository in dir
func Init(t testing.TB, dir string) *Repo {
	t.Helper()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	return &Repo{
		Dir:   dir,
		t:     t,
		repo:  repo,
		wt:    wt,
		clock: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (r *Repo) signature(author identity.Author) *object.Signature {
	r.clock = r.clock.Add(time.Minute)
	return &object.Signature{Name: author.Name, Email: author.Email, When: r.clock}
}

// Commit writes files and commits them as author, returning the commit hash
func (r *Repo) Commit(author identity.Author, msg string, files map[string]string) string {
	r.t.Helper()

	for path, content := range files {
		full := filepath.Join(r.Dir, filepath.FromSlash(path))
		require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(r.t, os.WriteFile(full, []byte(content), 0o644))
		_, err := r.wt.Add(path)
		require.NoError(r.t, err)
	}

	hash, err := r.wt.Commit(msg, &git.CommitOptions{Author: r.signature(author)})
	require.NoError(r.t, err)
	return hash.String()
}

// Delete removes paths and commits the deletion
func (r *Repo) Delete(author identity.Author, msg string, paths ...string) string {
	r.t.Helper()

	for _, path := range paths {
		_, err := r.wt.Remove(path)
		require.NoError(r.t, err)
	}
	hash, err := r.wt.Commit(msg, &git.CommitOptions{Author: r.signature(author)})
	require.NoError(r.t, err)
	return hash.String()
}

// Merge commits the current worktree with the given parents, first parent first
func (r *Repo) Merge(author identity.Author, msg string, files map[string]string, parents ...string) string {
	r.t.Helper()

	for path, content := range files {
		full := filepath.Join(r.Dir, filepath.FromSlash(path))
		require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(r.t, os.WriteFile(full, []byte(content), 0o644))
		_, err := r.wt.Add(path)
		require.NoError(r.t, err)
	}

	hashes := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		hashes = append(hashes, plumbing.NewHash(p))
	}
	hash, err := r.wt.Commit(msg, &git.CommitOptions{
		Author:            r.signature(author),
		Parents:           hashes,
		AllowEmptyCommits: true,
	})
	require.NoError(r.t, err)
	return hash.String()
}

// Reset moves the current branch and worktree to hash
func (r *Repo) Reset(hash string) {
	r.t.Helper()
	require.NoError(r.t, r.wt.Reset(&git.ResetOptions{Commit: plumbing.NewHash(hash), Mode: git.HardReset}))
}

// Checkout switches to branch, creating it at HEAD when create is set
func (r *Repo) Checkout(branch string, create bool) {
	r.t.Helper()
	require.NoError(r.t, r.wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	}))
}
