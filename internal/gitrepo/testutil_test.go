package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// testRepo builds small histories in a temp dir.
type testRepo struct {
	t     *testing.T
	dir   string
	repo  *git.Repository
	wt    *git.Worktree
	clock time.Time
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "project")
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	return &testRepo{
		t:     t,
		dir:   dir,
		repo:  repo,
		wt:    wt,
		clock: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (tr *testRepo) write(files map[string]string, deletes ...string) {
	tr.t.Helper()
	for name, content := range files {
		path := filepath.Join(tr.dir, name)
		require.NoError(tr.t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(tr.t, os.WriteFile(path, []byte(content), 0644))
		_, err := tr.wt.Add(name)
		require.NoError(tr.t, err)
	}
	for _, name := range deletes {
		_, err := tr.wt.Remove(name)
		require.NoError(tr.t, err)
	}
}

func (tr *testRepo) tick() time.Time {
	tr.clock = tr.clock.Add(time.Minute)
	return tr.clock
}

func (tr *testRepo) commitAt(when time.Time, files map[string]string, deletes ...string) plumbing.Hash {
	tr.t.Helper()
	tr.write(files, deletes...)
	h, err := tr.wt.Commit("change", &git.CommitOptions{
		Author:            &object.Signature{Name: "dev", Email: "dev@example.com", When: when},
		AllowEmptyCommits: true,
	})
	require.NoError(tr.t, err)
	return h
}

func (tr *testRepo) commit(files map[string]string, deletes ...string) plumbing.Hash {
	tr.t.Helper()
	return tr.commitAt(tr.tick(), files, deletes...)
}

// merge records a merge commit of HEAD and other with the given resolution.
func (tr *testRepo) merge(other plumbing.Hash, files map[string]string, deletes ...string) plumbing.Hash {
	tr.t.Helper()
	head, err := tr.repo.Head()
	require.NoError(tr.t, err)
	tr.write(files, deletes...)
	h, err := tr.wt.Commit("merge", &git.CommitOptions{
		Author:            &object.Signature{Name: "dev", Email: "dev@example.com", When: tr.tick()},
		Parents:           []plumbing.Hash{head.Hash(), other},
		AllowEmptyCommits: true,
	})
	require.NoError(tr.t, err)
	return h
}

func (tr *testRepo) checkout(branch string, create bool) {
	tr.t.Helper()
	require.NoError(tr.t, tr.wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	}))
}

func (tr *testRepo) open(m FileMerger) *Repository {
	tr.t.Helper()
	r, err := Open(tr.dir, WithMerger(m))
	require.NoError(tr.t, err)
	return r
}

// fakeMerger reports a fixed outcome and records the paths it merged.
type fakeMerger struct {
	mu            sync.Mutex
	automergeable bool
	paths         []string
}

func (f *fakeMerger) MergeFile(_ context.Context, _, ours, _ MergeFileInput, _ MergeFileOptions) (*MergeFileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, ours.Path)
	if f.automergeable {
		return &MergeFileResult{Automergeable: true, Content: ours.Content}, nil
	}
	return &MergeFileResult{Conflicts: 1}, nil
}
