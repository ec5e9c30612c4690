package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/mergelab/cmine/internal/models"
)

// WalkConflicts visits the commits reachable from HEAD in topological order,
// newest first, and calls fn with every merge commit whose first two parents
// conflict. A limit <= 0 walks the whole history; otherwise the walk stops
// after limit scenarios. An error from fn stops the walk and is returned.
func (r *Repository) WalkConflicts(ctx context.Context, limit int, fn func(*models.ConflictMergeScenario) error) error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	start, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("load HEAD commit: %w", err)
	}
	iter, err := newTopoIter(r.repo, start)
	if err != nil {
		return err
	}

	found := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.NumParents() < 2 {
			continue
		}

		ms, err := r.scenarioFor(ctx, c)
		if err != nil {
			return fmt.Errorf("merge commit %s: %w", c.Hash, err)
		}
		if ms == nil {
			continue
		}
		if err := fn(ms); err != nil {
			return err
		}
		found++
		if limit > 0 && found >= limit {
			return nil
		}
	}
}

// scenarioFor replays the merge of c's first two parents. It returns nil when
// the merge is clean or a parent is missing from the object store.
func (r *Repository) scenarioFor(ctx context.Context, c *object.Commit) (*models.ConflictMergeScenario, error) {
	ours, err := r.repo.CommitObject(c.ParentHashes[0])
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	theirs, err := r.repo.CommitObject(c.ParentHashes[1])
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	base, err := r.MergeBase(ours, theirs)
	if err != nil {
		return nil, err
	}
	files, err := r.MergeCommits(ctx, ours, theirs, base)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	ms := &models.ConflictMergeScenario{
		Ours:   ours.Hash.String(),
		Theirs: theirs.Hash.String(),
		Merged: c.Hash.String(),
		Files:  files,
	}
	if base != nil {
		ms.Base = base.Hash.String()
	}
	return ms, nil
}

// MergeBase returns the first best common ancestor of ours and theirs, or nil
// when the histories are unrelated.
func (r *Repository) MergeBase(ours, theirs *object.Commit) (*object.Commit, error) {
	bases, err := ours.MergeBase(theirs)
	if err != nil {
		return nil, fmt.Errorf("merge base of %s and %s: %w", ours.Hash, theirs.Hash, err)
	}
	if len(bases) == 0 {
		return nil, nil
	}
	return bases[0], nil
}

// topoIter yields commits with every child before its parents, picking the
// newest committer time among the ready commits (git log --date-order).
type topoIter struct {
	commits  map[plumbing.Hash]*object.Commit
	children map[plumbing.Hash]int
	heap     *binaryheap.Heap
}

func newTopoIter(repo *git.Repository, start *object.Commit) (*topoIter, error) {
	it := &topoIter{
		commits:  map[plumbing.Hash]*object.Commit{start.Hash: start},
		children: map[plumbing.Hash]int{},
		heap:     binaryheap.NewWith(byCommitterTime),
	}

	missing := map[plumbing.Hash]bool{}
	queue := []*object.Commit{start}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, ph := range c.ParentHashes {
			if missing[ph] {
				continue
			}
			if _, seen := it.commits[ph]; !seen {
				p, err := repo.CommitObject(ph)
				if errors.Is(err, plumbing.ErrObjectNotFound) {
					// shallow boundary
					missing[ph] = true
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("load commit %s: %w", ph, err)
				}
				it.commits[ph] = p
				queue = append(queue, p)
			}
			it.children[ph]++
		}
	}

	it.heap.Push(start)
	return it, nil
}

// Next returns the next commit, or io.EOF when the walk is exhausted.
func (it *topoIter) Next() (*object.Commit, error) {
	v, ok := it.heap.Pop()
	if !ok {
		return nil, io.EOF
	}
	c := v.(*object.Commit)
	for _, ph := range c.ParentHashes {
		p, ok := it.commits[ph]
		if !ok {
			continue
		}
		it.children[ph]--
		if it.children[ph] == 0 {
			it.heap.Push(p)
		}
	}
	return c, nil
}

func byCommitterTime(a, b interface{}) int {
	ca, cb := a.(*object.Commit), b.(*object.Commit)
	switch {
	case ca.Committer.When.After(cb.Committer.When):
		return -1
	case ca.Committer.When.Before(cb.Committer.When):
		return 1
	default:
		return strings.Compare(ca.Hash.String(), cb.Hash.String())
	}
}
